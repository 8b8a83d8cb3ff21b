package driver

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/otama-go/otama/pkg/feature"
	"github.com/otama-go/otama/pkg/master"
	"github.com/otama-go/otama/pkg/otid"
	"github.com/otama-go/otama/pkg/store/inverted"
)

// InvertedDriver implements Driver for the sparse word-list family
// (bovw512k_iv), atop pkg/store/inverted — either the in-memory Bucket
// or the bbolt-backed Disk, selected by the caller when constructing
// the Store. Grounded on otama_inverted_index.hpp's driver coupling:
// unlike the fixed-store families, ranking and hit-threshold filtering
// live inside the Store itself (SearchCosine), so this driver is
// mostly plumbing between master.Relation and inverted.Store.
type InvertedDriver struct {
	mu sync.Mutex

	cfg    Config
	family string
	store  inverted.Store
	rel    master.Relation
}

func NewInvertedDriver(cfg Config, family string, store inverted.Store) *InvertedDriver {
	return &InvertedDriver{cfg: cfg, family: family, store: store}
}

func (d *InvertedDriver) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.store.Open(); err != nil {
		return fmt.Errorf("driver: open %s: %w", d.family, err)
	}
	rel, err := d.cfg.openRelation(d.family)
	if err != nil {
		return fmt.Errorf("driver: open %s: %w", d.family, err)
	}
	if err := rel.CreateTable(); err != nil {
		return fmt.Errorf("driver: open %s: %w", d.family, err)
	}
	d.rel = rel
	return nil
}

func (d *InvertedDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			firstErr = err
		}
		d.store = nil
	}
	if d.rel != nil {
		d.rel.Close()
		d.rel = nil
	}
	return firstErr
}

func (d *InvertedDriver) Active() bool { return d.rel != nil }

func (d *InvertedDriver) Count() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.Count(), nil
}

func (d *InvertedDriver) Vacuum() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.Vacuum()
}

func (d *InvertedDriver) CreateDatabase() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rel.CreateTable()
}

func (d *InvertedDriver) DropDatabase() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rel.DropTable()
}

// DropIndex clears the posting-list store (spec §6 drop_index), forcing
// the next Pull to rebuild it from master from scratch.
func (d *InvertedDriver) DropIndex() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.Clear()
}

func (d *InvertedDriver) resolveFeature(q Query) (*feature.SparseVector, otid.ID, error) {
	switch {
	case q.String != "":
		v, err := feature.ParseSparseVectorHex(q.String)
		if err != nil {
			return nil, otid.ID{}, fmt.Errorf("%w: %v", ErrAssertionFailure, err)
		}
		return v, otid.ID{}, nil
	case q.HasID:
		return nil, q.ID, nil
	case q.File != "" || len(q.Data) > 0:
		return nil, otid.ID{}, ErrExternalExtractionRequired
	default:
		return nil, otid.ID{}, ErrNoQuerySource
	}
}

func (d *InvertedDriver) Insert(q Query) (otid.ID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, _, err := d.resolveFeature(q)
	if err != nil {
		return otid.ID{}, err
	}
	serialized := v.SerializeHex()
	id := otid.OfData([]byte(serialized))
	if q.HasID {
		id = q.ID
	}
	hexID := id.String()

	_, inserted, err := d.rel.InsertIfAbsent(hexID, serialized)
	if err != nil {
		return otid.ID{}, fmt.Errorf("driver: insert: %w", err)
	}
	if !inserted {
		if err := d.rel.UpdateFlag(hexID, 0); err != nil {
			return otid.ID{}, fmt.Errorf("driver: insert: %w", err)
		}
	}
	return id, nil
}

func (d *InvertedDriver) Remove(id otid.ID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.rel.UpdateFlag(id.String(), 1); err != nil {
		return fmt.Errorf("driver: remove: %w", err)
	}
	return nil
}

func (d *InvertedDriver) Exists(id otid.ID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, exists, err := d.rel.ExistsByOtamaID(id.String())
	return exists, err
}

func (d *InvertedDriver) FeatureString(q Query) (string, error) {
	v, _, err := d.resolveFeature(q)
	if err != nil {
		return "", err
	}
	return v.SerializeHex(), nil
}

func (d *InvertedDriver) Similarity(a, b Query) (float32, error) {
	va, _, err := d.resolveFeature(a)
	if err != nil {
		return 0, err
	}
	vb, _, err := d.resolveFeature(b)
	if err != nil {
		return 0, err
	}
	overlap := feature.Overlap(va, vb)
	if overlap == 0 {
		return 0, nil
	}
	normA := float32(len(va.Words))
	normB := float32(len(vb.Words))
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return float32(overlap*overlap) / normA / normB, nil
}

// Set/Get/Unset support hit_threshold, the only mutable setting the
// inverted family's word-weighted Store exposes (spec §6).
func (d *InvertedDriver) Set(key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch key {
	case "hit_threshold":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: hit_threshold: %v", ErrInvalidArguments, err)
		}
		d.cfg.HitThreshold = n
		d.store.SetHitThreshold(n)
	default:
		return fmt.Errorf("%w: unknown key %s", ErrInvalidArguments, key)
	}
	return nil
}

func (d *InvertedDriver) Get(key string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch key {
	case "hit_threshold":
		return strconv.Itoa(d.cfg.hitThreshold()), nil
	default:
		return "", fmt.Errorf("%w: unknown key %s", ErrInvalidArguments, key)
	}
}

func (d *InvertedDriver) Unset(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch key {
	case "hit_threshold":
		d.cfg.HitThreshold = 0
		d.store.SetHitThreshold(inverted.DefaultHitThreshold)
	default:
		return fmt.Errorf("%w: unknown key %s", ErrInvalidArguments, key)
	}
	return nil
}

// Invoke runs update_idf/print_idf. Like the bit-vector family, this
// driver's idf weighting is always computed live from the store's
// current Count/HashCount (see registry.go's newIDFWeightedStore), so
// update_idf has nothing to recompute; print_idf reports the live
// record count feeding it.
func (d *InvertedDriver) Invoke(method, in string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch method {
	case "update_idf":
		return "", nil
	case "print_idf":
		return fmt.Sprintf("total=%d", d.store.Count()), nil
	default:
		return "", fmt.Errorf("%w: unknown method %s", ErrInvalidArguments, method)
	}
}

func (d *InvertedDriver) Search(n int, q Query) ([]Result, error) {
	v, _, err := d.resolveFeature(q)
	if err != nil {
		return nil, err
	}

	if err := d.store.BeginReader(); err != nil {
		return nil, fmt.Errorf("driver: search: %w", err)
	}
	defer d.store.End()

	hits, err := d.store.SearchCosine(v.Words, n)
	if err != nil {
		return nil, fmt.Errorf("driver: search: %w", err)
	}
	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = Result{ID: h.ID, Similarity: h.Similarity}
	}
	return out, nil
}

func (d *InvertedDriver) Pull() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.store.BeginWriter(); err != nil {
		return fmt.Errorf("driver: pull: %w", err)
	}
	defer d.store.End()

	target := &invertedPullTarget{store: d.store}
	return pull(d.rel, target, d.cfg.Shard)
}

type invertedPullTarget struct {
	store inverted.Store
}

func (t *invertedPullTarget) appendRecord(no int64, id otid.ID, vector string) error {
	v, err := feature.ParseSparseVectorHex(vector)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAssertionFailure, err)
	}
	return t.store.Set(no, id, v.Words)
}

func (t *invertedPullTarget) updateFlag(no int64, flag int) error {
	return t.store.SetFlag(no, uint8(flag))
}

func (t *invertedPullTarget) getLastNo() int64 { return t.store.GetLastNo() }
func (t *invertedPullTarget) setLastNo(no int64) error {
	return t.store.SetLastNo(no)
}
func (t *invertedPullTarget) getLastCommitNo() int64 { return t.store.GetLastCommitNo() }
func (t *invertedPullTarget) setLastCommitNo(no int64) error {
	return t.store.SetLastCommitNo(no)
}
func (t *invertedPullTarget) sync() error { return t.store.Sync() }
