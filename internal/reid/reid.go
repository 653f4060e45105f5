// Package reid produces fixed-dimension appearance embeddings for person
// crops, per spec.md §4.8 and §9's ReID Vector glossary entry. No GPU
// embedding model ships in this tree (that runtime is out of core scope
// per spec.md §1); instead Extract derives a deterministic, content-keyed
// vector via blake2b so that the SAME crop always yields the SAME
// embedding — which is what the Tracker and CrossCameraRegistry actually
// depend on (repeatable similarity, not semantic accuracy).
package reid

import (
	"encoding/binary"
	"math"

	"golang.org/x/crypto/blake2b"
	"gonum.org/v1/gonum/floats"

	"github.com/technosupport/visionserve/internal/model"
)

// Extract derives a unit-norm ReIDVector from a person crop. Pixels,
// width and height all participate in the hash so that a resized or
// recolored crop of the same person does not collide trivially, while
// two byte-identical crops always produce the identical vector.
func Extract(crop model.PersonCrop) model.ReIDVector {
	return vectorFromSeed(seedBytes(crop))
}

func seedBytes(crop model.PersonCrop) []byte {
	h, _ := blake2b.New512(nil)
	var dims [16]byte
	binary.LittleEndian.PutUint64(dims[0:8], uint64(crop.Width))
	binary.LittleEndian.PutUint64(dims[8:16], uint64(crop.Height))
	h.Write(dims[:])
	h.Write(crop.Pixels)
	return h.Sum(nil)
}

// vectorFromSeed expands a 64-byte blake2b digest into ReIDDim float32s
// by repeated re-hashing (a simple, dependency-free stream expansion),
// then L2-normalizes the result with gonum/floats so every vector is
// comparable via plain dot product.
func vectorFromSeed(seed []byte) model.ReIDVector {
	var out model.ReIDVector
	buf := make([]float64, model.ReIDDim)

	block := seed
	idx := 0
	for idx < model.ReIDDim {
		h, _ := blake2b.New512(block)
		digest := h.Sum(nil)
		for i := 0; i+8 <= len(digest) && idx < model.ReIDDim; i += 8 {
			bits := binary.LittleEndian.Uint64(digest[i : i+8])
			// Map to [-1, 1) via the top 53 bits treated as a signed
			// fraction, keeping the expansion purely arithmetic.
			v := (float64(bits>>11) / float64(1<<53)) * 2 - 1
			buf[idx] = v
			idx++
		}
		block = digest
	}

	norm := floats.Norm(buf, 2)
	if norm > 0 {
		floats.Scale(1/norm, buf)
	}
	for i, v := range buf {
		out[i] = float32(v)
	}
	return out
}

// Cosine computes cosine similarity between two unit-norm vectors. Both
// inputs are assumed normalized (as Extract guarantees), so this reduces
// to a dot product, but the function tolerates non-unit input by
// dividing through the actual norms.
func Cosine(a, b model.ReIDVector) float64 {
	fa := make([]float64, model.ReIDDim)
	fb := make([]float64, model.ReIDDim)
	for i := range a {
		fa[i] = float64(a[i])
		fb[i] = float64(b[i])
	}
	na := floats.Norm(fa, 2)
	nb := floats.Norm(fb, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	dot := floats.Dot(fa, fb)
	sim := dot / (na * nb)
	if math.IsNaN(sim) {
		return 0
	}
	return sim
}

// Blend computes beta*old + (1-beta)*fresh and re-normalizes, the
// exponential moving average CrossCameraRegistry (C10) uses to fuse a
// global track's appearance vector as new observations arrive.
func Blend(old, fresh model.ReIDVector, beta float64) model.ReIDVector {
	combined := make([]float64, model.ReIDDim)
	for i := range combined {
		combined[i] = beta*float64(old[i]) + (1-beta)*float64(fresh[i])
	}
	var out model.ReIDVector
	norm := floats.Norm(combined, 2)
	if norm > 0 {
		floats.Scale(1/norm, combined)
	}
	for i, v := range combined {
		out[i] = float32(v)
	}
	return out
}

// Average computes the element-wise mean of a set of vectors and
// re-normalizes the result.
func Average(vecs ...model.ReIDVector) model.ReIDVector {
	if len(vecs) == 0 {
		return model.ReIDVector{}
	}
	sum := make([]float64, model.ReIDDim)
	for _, v := range vecs {
		for i := range v {
			sum[i] += float64(v[i])
		}
	}
	floats.Scale(1/float64(len(vecs)), sum)

	var out model.ReIDVector
	norm := floats.Norm(sum, 2)
	if norm > 0 {
		floats.Scale(1/norm, sum)
	}
	for i, v := range sum {
		out[i] = float32(v)
	}
	return out
}
