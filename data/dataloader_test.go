package data

import (
	"errors"
	"testing"

	"github.com/kserra/trainkit/config"
)

func makeDataset(t *testing.T, size int) *InMemoryDataset {
	t.Helper()

	samples := make([][]float32, size)
	labels := make([]int32, size)
	for i := range samples {
		samples[i] = []float32{float32(i), float32(i) * 2}
		labels[i] = int32(i % 3)
	}

	ds, err := NewInMemoryDataset(samples, labels)
	if err != nil {
		t.Fatalf("NewInMemoryDataset failed: %v", err)
	}
	return ds
}

func TestDataLoaderBatching(t *testing.T) {
	ds := makeDataset(t, 10)
	dl, err := NewDataLoader(ds, 4, false)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}

	if dl.Len() != 3 {
		t.Errorf("expected 3 batches, got %d", dl.Len())
	}

	dl.Reset()

	var sizes []int
	for dl.HasNext() {
		batch, err := dl.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if batch == nil {
			break
		}
		sizes = append(sizes, batch.Size())
	}

	// Final partial batch carries the remaining 2 samples
	want := []int{4, 4, 2}
	if len(sizes) != len(want) {
		t.Fatalf("expected %d batches, got %d", len(want), len(sizes))
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("batch %d: expected size %d, got %d", i, want[i], sizes[i])
		}
	}
}

func TestDataLoaderResetRestartsPass(t *testing.T) {
	ds := makeDataset(t, 6)
	dl, err := NewDataLoader(ds, 6, false)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}

	for pass := 0; pass < 3; pass++ {
		dl.Reset()
		count := 0
		for dl.HasNext() {
			batch, err := dl.Next()
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			if batch == nil {
				break
			}
			count += batch.Size()
		}
		if count != 6 {
			t.Errorf("pass %d: expected 6 samples, got %d", pass, count)
		}
	}
}

func TestDataLoaderShuffleKeepsAllSamples(t *testing.T) {
	ds := makeDataset(t, 20)
	dl, err := NewDataLoader(ds, 7, true)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}

	dl.Reset()

	seen := make(map[float32]bool)
	for dl.HasNext() {
		batch, err := dl.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if batch == nil {
			break
		}
		data := batch.Data.Data.([]float32)
		for i := 0; i < batch.Size(); i++ {
			seen[data[i*2]] = true
		}
	}

	if len(seen) != 20 {
		t.Errorf("shuffled pass saw %d distinct samples, expected 20", len(seen))
	}
}

func TestSyntheticDatasetDeterminism(t *testing.T) {
	a, err := NewSyntheticDataset(32, 16, 10, 7)
	if err != nil {
		t.Fatalf("NewSyntheticDataset failed: %v", err)
	}
	b, err := NewSyntheticDataset(32, 16, 10, 7)
	if err != nil {
		t.Fatalf("NewSyntheticDataset failed: %v", err)
	}

	for i := 0; i < a.Len(); i++ {
		sa, la, _ := a.Get(i)
		sb, lb, _ := b.Get(i)
		if la != lb {
			t.Fatalf("sample %d: labels differ", i)
		}
		for j := range sa {
			if sa[j] != sb[j] {
				t.Fatalf("sample %d differs at feature %d", i, j)
			}
		}
	}
}

func TestNewLoadersUnknownDataset(t *testing.T) {
	decay := 0.0
	cfg := &config.Config{
		Dataset:   "imagenet-22k",
		Batch:     32,
		Epoch:     1,
		Model:     "mlp",
		LR:        0.1,
		Optimizer: config.OptimizerConfig{Type: config.OptimizerSGD, Decay: &decay},
	}

	_, err := NewLoaders(cfg, t.TempDir())
	if err == nil {
		t.Fatalf("expected error for unknown dataset")
	}

	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected *config.Error, got %T", err)
	}
}

func TestNewLoadersSynthetic(t *testing.T) {
	decay := 0.0
	cfg := &config.Config{
		Dataset:   "synthetic",
		Batch:     32,
		Epoch:     1,
		Model:     "mlp",
		LR:        0.1,
		Optimizer: config.OptimizerConfig{Type: config.OptimizerSGD, Decay: &decay},
	}

	loaders, err := NewLoaders(cfg, "")
	if err != nil {
		t.Fatalf("NewLoaders failed: %v", err)
	}

	if loaders.InputDim != 16 || loaders.NumClasses != 10 {
		t.Errorf("unexpected geometry: dim=%d classes=%d", loaders.InputDim, loaders.NumClasses)
	}
	if loaders.Train.Size() == 0 || loaders.Valid.Size() == 0 || loaders.Test.Size() == 0 {
		t.Errorf("expected non-empty splits")
	}
}
