package sourcestore

import (
	"context"
	"fmt"
	"sync"

	"github.com/containerless/platform/pkg/clerr"
)

// Fake is an in-memory Client for table and controller-API tests.
type Fake struct {
	mu    sync.Mutex
	files map[string][]byte
}

// NewFake returns an empty in-memory source store.
func NewFake() *Fake {
	return &Fake{files: make(map[string][]byte)}
}

func (f *Fake) Exists(ctx context.Context, name string) error {
	_, err := f.Get(ctx, name)
	return err
}

func (f *Fake) Get(ctx context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	contents, ok := f.files[name]
	if !ok {
		return nil, clerr.New("sourcestore.fake.get", clerr.NotFound, fmt.Errorf("function %q not found", name))
	}
	return contents, nil
}

func (f *Fake) Create(ctx context.Context, name string, contents []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[name]; ok {
		return clerr.New("sourcestore.fake.create", clerr.Conflict, fmt.Errorf("function %q already exists", name))
	}
	f.files[name] = contents
	return nil
}

func (f *Fake) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[name]; !ok {
		return clerr.New("sourcestore.fake.delete", clerr.NotFound, fmt.Errorf("function %q not found", name))
	}
	delete(f.files, name)
	return nil
}

var _ Client = (*Fake)(nil)
