// SPDX-License-Identifier: MIT
/*
Package bitint provides the power-of-2 helpers the analysis pipeline
relies on for sizing its fixed buffers:

  - The spectrum FFT window must be a power of 2 (validated once at
    construction, never resized).
  - The autocorrelation used for pitch detection is computed with a
    zero-padded FFT whose length is the next power of 2 at or above
    twice the analysed window, so circular wrap-around never folds
    back onto the lags we search.

Both functions are O(1), allocation free and safe to call from the
per-tick hot path.

	padded := bitint.NextPowerOfTwo(2 * len(window)) // 2048 -> 4096
	ok := bitint.IsPowerOfTwo(cfg.FFTSize)

NextPowerOfTwo subtracts one before taking the bit length so exact
powers of 2 are preserved: for 8, Len(7) = 3 and 1<<3 = 8, whereas
Len(8) = 4 would double it to 16.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of 2 >= size.
// Zero and negative sizes return 1.
//
//	Input  Output
//	4      4
//	5      8
//	2047   2048
//	0      1
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of 2.
// A power of 2 has a single bit set, so n & (n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
