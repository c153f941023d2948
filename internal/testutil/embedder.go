package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// FakeEmbedder is a deterministic ai.Embedder: identical text always maps
// to the identical unit vector, so similarity assertions are stable across
// runs. Set Err to make every call fail.
type FakeEmbedder struct {
	Dimension int
	Err       error
	Calls     int
}

// NewFakeEmbedder returns a FakeEmbedder matching the schema's vector(768).
func NewFakeEmbedder() *FakeEmbedder {
	return &FakeEmbedder{Dimension: 768}
}

func (f *FakeEmbedder) Name() string { return "fake-embedder" }

func (f *FakeEmbedder) Register(r api.Registry) {}

func (f *FakeEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}

	resp := &ai.EmbedResponse{}
	for _, doc := range req.Input {
		text := ""
		for _, part := range doc.Content {
			text += part.Text
		}
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{
			Embedding: f.vectorFor(text),
		})
	}
	return resp, nil
}

// vectorFor expands a content hash into a unit vector of f.Dimension.
func (f *FakeEmbedder) vectorFor(text string) []float32 {
	vec := make([]float32, f.Dimension)
	seed := sha256.Sum256([]byte(text))
	block := seed
	var norm float64
	for i := range vec {
		if i%8 == 0 && i > 0 {
			block = sha256.Sum256(block[:])
		}
		bits := binary.BigEndian.Uint32(block[(i%8)*4 : (i%8)*4+4])
		v := float64(bits)/float64(math.MaxUint32)*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
