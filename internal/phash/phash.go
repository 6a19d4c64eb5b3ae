// Package phash computes 64-bit DCT perceptual hashes and compares them by
// Hamming distance.
package phash

import (
	"fmt"
	"image"
	"math"
	"math/bits"
	"sort"

	"github.com/disintegration/imaging"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/starford/clipshelf/internal/checksum"
	"github.com/starford/clipshelf/internal/thumbnail"
)

const (
	sampleSide = 32
	hashSide   = 8
)

// cosTable[u][x] = cos((2x+1)uπ / 2N) for the first hashSide frequencies.
var cosTable = func() [hashSide][sampleSide]float64 {
	var t [hashSide][sampleSide]float64
	for u := range hashSide {
		for x := range sampleSide {
			t[u][x] = math.Cos(float64(2*x+1) * float64(u) * math.Pi / (2 * sampleSide))
		}
	}
	return t
}()

// Hash returns the perceptual hash of img. Bit i (row-major over the 8x8
// low-frequency block) is set when that DCT coefficient exceeds the median of
// the 63 AC coefficients. Identical pixel data always yields the same hash.
func Hash(img image.Image) uint64 {
	gray := imaging.Grayscale(img)
	small := imaging.Resize(gray, sampleSide, sampleSide, imaging.Lanczos)

	var px [sampleSide][sampleSide]float64
	for y := range sampleSide {
		for x := range sampleSide {
			px[y][x] = float64(small.Pix[y*small.Stride+x*4])
		}
	}

	// Separable 2-D DCT-II restricted to the low frequencies.
	var rows [sampleSide][hashSide]float64
	for y := range sampleSide {
		for v := range hashSide {
			var sum float64
			for x := range sampleSide {
				sum += px[y][x] * cosTable[v][x]
			}
			rows[y][v] = sum
		}
	}
	var coef [hashSide * hashSide]float64
	for u := range hashSide {
		for v := range hashSide {
			var sum float64
			for y := range sampleSide {
				sum += rows[y][v] * cosTable[u][y]
			}
			coef[u*hashSide+v] = sum
		}
	}

	ac := make([]float64, 0, len(coef)-1)
	ac = append(ac, coef[1:]...)
	sort.Float64s(ac)
	median := ac[len(ac)/2]

	var h uint64
	for i, c := range coef {
		if c > median {
			h |= 1 << uint(i)
		}
	}
	return h
}

// Distance is the Hamming distance between two hashes, in [0, 64].
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Cache memoizes hashes of encoded images by content checksum.
type Cache struct {
	lru *lru.Cache[string, uint64]
}

// NewCache returns a cache holding at most size hashes.
func NewCache(size int) (*Cache, error) {
	c, err := lru.New[string, uint64](size)
	if err != nil {
		return nil, fmt.Errorf("phash: new cache: %w", err)
	}
	return &Cache{lru: c}, nil
}

// HashBytes decodes data and returns its hash, reusing a cached value for
// payloads seen before.
func (c *Cache) HashBytes(data []byte) (uint64, error) {
	key := checksum.Sum(data)
	if h, ok := c.lru.Get(key); ok {
		return h, nil
	}
	img, err := thumbnail.Decode(data)
	if err != nil {
		return 0, err
	}
	h := Hash(img)
	c.lru.Add(key, h)
	return h, nil
}

// Len reports how many hashes are cached.
func (c *Cache) Len() int { return c.lru.Len() }
