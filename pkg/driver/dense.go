package driver

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"

	"github.com/otama-go/otama/pkg/feature"
	"github.com/otama-go/otama/pkg/master"
	"github.com/otama-go/otama/pkg/otid"
	"github.com/otama-go/otama/pkg/store/fixed"
)

// DenseFixedDriver implements Driver for the dense real-vector
// families (vlad{128,512}, lmca_*), atop pkg/store/fixed. Grounded on
// nv_vlad.h/otama_vlad_fixed_driver.hpp; shares its storage/pull
// machinery with FixedBitDriver but compares records by plain cosine
// instead of bit-cosine (spec §4.6 only defines a rerank path for the
// bit-vector family).
type DenseFixedDriver struct {
	mu sync.Mutex

	cfg    Config
	family string
	dims   int
	color  ColorKind

	store *fixed.Store
	rel   master.Relation
}

func NewDenseFixedDriver(cfg Config, family string, dims int, color ColorKind) *DenseFixedDriver {
	return &DenseFixedDriver{cfg: cfg, family: family, dims: dims, color: color}
}

func (d *DenseFixedDriver) vecSize() int { return d.dims*4 + colorByteSize(d.color) }

func (d *DenseFixedDriver) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.store = fixed.New(d.cfg.DataDir, d.cfg.Namespace+d.family)
	if _, err := os.Stat(d.store.MetadataPath()); os.IsNotExist(err) {
		if err := d.store.Create(d.vecSize()); err != nil {
			return fmt.Errorf("driver: open %s: %w", d.family, err)
		}
	}
	if err := d.store.Open(d.vecSize()); err != nil {
		return fmt.Errorf("driver: open %s: %w", d.family, err)
	}
	if !d.store.Verified() {
		if err := d.store.Unlink(); err != nil {
			return fmt.Errorf("driver: open %s: rebuild after unclean shutdown: %w", d.family, err)
		}
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

func (d *DenseFixedDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.store != nil {
		d.store.Close()
		d.store = nil
	}
	if d.rel != nil {
		d.rel.Close()
		d.rel = nil
	}
	return nil
}

func (d *DenseFixedDriver) Active() bool { return d.store != nil && d.store.IsActive() }

func (d *DenseFixedDriver) Count() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.Count(), nil
}

func (d *DenseFixedDriver) Vacuum() error { return nil }

func (d *DenseFixedDriver) CreateDatabase() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rel.CreateTable()
}

func (d *DenseFixedDriver) DropDatabase() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rel.DropTable()
}

func (d *DenseFixedDriver) DropIndex() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.Unlink()
}

func (d *DenseFixedDriver) encode(v *feature.DenseVector) []byte {
	buf := make([]byte, d.vecSize())
	for i := 0; i < d.dims; i++ {
		var x float32
		if i < len(v.Values) {
			x = v.Values[i]
		}
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	if d.color != ColorNone && v.Color != nil {
		offset := d.dims * 4
		for i, w := range v.Color.Color {
			binary.LittleEndian.PutUint64(buf[offset+i*8:], w)
		}
	}
	return buf
}

func (d *DenseFixedDriver) decode(buf []byte) *feature.DenseVector {
	v := &feature.DenseVector{Values: make([]float32, d.dims)}
	for i := 0; i < d.dims; i++ {
		v.Values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	if d.color == ColorBOC {
		var c feature.BOC
		offset := d.dims * 4
		for i := range c.Color {
			c.Color[i] = binary.LittleEndian.Uint64(buf[offset+i*8:])
		}
		c.ComputeNorm()
		v.Color = &c
	}
	return v
}

func (d *DenseFixedDriver) resolveFeature(q Query) (*feature.DenseVector, otid.ID, error) {
	switch {
	case q.String != "":
		v, err := feature.ParseDenseVector(q.String)
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

func (d *DenseFixedDriver) loadByID(id otid.ID) (*feature.DenseVector, bool) {
	n := d.store.Count()
	for i := int64(0); i < n; i++ {
		if d.store.IDAt(i) == id {
			return d.decode(d.store.VecAt(i)), true
		}
	}
	return nil, false
}

func (d *DenseFixedDriver) Insert(q Query) (otid.ID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, _, err := d.resolveFeature(q)
	if err != nil {
		return otid.ID{}, err
	}
	serialized := v.Serialize()
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

func (d *DenseFixedDriver) Remove(id otid.ID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.rel.UpdateFlag(id.String(), 1); err != nil {
		return fmt.Errorf("driver: remove: %w", err)
	}
	return nil
}

func (d *DenseFixedDriver) Exists(id otid.ID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, exists, err := d.rel.ExistsByOtamaID(id.String())
	return exists, err
}

func (d *DenseFixedDriver) FeatureString(q Query) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, id, err := d.resolveFeature(q)
	if err != nil {
		return "", err
	}
	if v == nil {
		loaded, ok := d.loadByID(id)
		if !ok {
			return "", ErrNoData
		}
		v = loaded
	}
	return v.Serialize(), nil
}

func (d *DenseFixedDriver) similarity(a, b *feature.DenseVector) float32 {
	sim := feature.Cosine(a, b)
	if d.color == ColorNone || a.Color == nil || b.Color == nil {
		return sim
	}
	colorsim := feature.BOCSimilarity(a.Color, b.Color)
	return feature.BlendedSimilarity(sim, colorsim, d.cfg.ColorWeight, d.cfg.ColorThreshold, d.cfg.ColorMethod)
}

func (d *DenseFixedDriver) Similarity(a, b Query) (float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	va, idA, err := d.resolveFeature(a)
	if err != nil {
		return 0, err
	}
	if va == nil {
		loaded, ok := d.loadByID(idA)
		if !ok {
			return 0, ErrNoData
		}
		va = loaded
	}
	vb, idB, err := d.resolveFeature(b)
	if err != nil {
		return 0, err
	}
	if vb == nil {
		loaded, ok := d.loadByID(idB)
		if !ok {
			return 0, ErrNoData
		}
		vb = loaded
	}
	return d.similarity(va, vb), nil
}

func (d *DenseFixedDriver) Search(n int, q Query) ([]Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	query, id, err := d.resolveFeature(q)
	if err != nil {
		return nil, err
	}
	if query == nil {
		loaded, ok := d.loadByID(id)
		if !ok {
			return nil, ErrNoData
		}
		query = loaded
	}

	var h resultMinHeap
	count := d.store.Count()
	for i := int64(0); i < count; i++ {
		if d.store.FlagAt(i) != 0 {
			continue
		}
		rec := d.decode(d.store.VecAt(i))
		sim := d.similarity(query, rec)
		pushBounded(&h, Result{ID: d.store.IDAt(i), Similarity: sim}, n)
	}
	return drainDescending(&h), nil
}

// Set/Get/Unset support only the color-sidecar settings (spec §4.6:
// the dense family has no rerank path, so rerank_method/first_scale/
// strip don't apply to it).
func (d *DenseFixedDriver) Set(key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch key {
	case "color_weight":
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return fmt.Errorf("%w: color_weight: %v", ErrInvalidArguments, err)
		}
		d.cfg.ColorWeight = float32(f)
	case "color_threshold":
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return fmt.Errorf("%w: color_threshold: %v", ErrInvalidArguments, err)
		}
		d.cfg.ColorThreshold = float32(f)
	case "color_method":
		switch feature.ColorMethod(value) {
		case feature.ColorMethodLinear, feature.ColorMethodStep:
			d.cfg.ColorMethod = feature.ColorMethod(value)
		default:
			return fmt.Errorf("%w: color_method: %s", ErrInvalidArguments, value)
		}
	default:
		return fmt.Errorf("%w: unknown key %s", ErrInvalidArguments, key)
	}
	return nil
}

func (d *DenseFixedDriver) Get(key string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch key {
	case "color_weight":
		return strconv.FormatFloat(float64(d.cfg.ColorWeight), 'g', -1, 32), nil
	case "color_threshold":
		return strconv.FormatFloat(float64(d.cfg.ColorThreshold), 'g', -1, 32), nil
	case "color_method":
		return string(d.cfg.ColorMethod), nil
	default:
		return "", fmt.Errorf("%w: unknown key %s", ErrInvalidArguments, key)
	}
}

func (d *DenseFixedDriver) Unset(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch key {
	case "color_weight":
		d.cfg.ColorWeight = 0
	case "color_threshold":
		d.cfg.ColorThreshold = 0
	case "color_method":
		d.cfg.ColorMethod = feature.ColorMethodLinear
	default:
		return fmt.Errorf("%w: unknown key %s", ErrInvalidArguments, key)
	}
	return nil
}

// Invoke has no methods to offer on the dense family: idf reranking
// only applies to the bit-vector family (spec §4.6).
func (d *DenseFixedDriver) Invoke(method, in string) (string, error) {
	return "", fmt.Errorf("%w: unknown method %s", ErrInvalidArguments, method)
}

func (d *DenseFixedDriver) Pull() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.store.SetVerified(false)
	if err := d.store.Sync(); err != nil {
		return fmt.Errorf("driver: pull: %w", err)
	}

	target := &densePullTarget{driver: d, store: d.store, next: d.store.Count()}
	if err := pull(d.rel, target, d.cfg.Shard); err != nil {
		return err
	}

	d.store.SetVerified(true)
	return d.store.Sync()
}

type densePullTarget struct {
	driver *DenseFixedDriver
	store  *fixed.Store
	next   int64
}

func (t *densePullTarget) appendRecord(no int64, id otid.ID, vector string) error {
	v, err := feature.ParseDenseVector(vector)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAssertionFailure, err)
	}
	buf := t.driver.encode(v)
	if err := t.store.ExtendTo(t.next); err != nil {
		return err
	}
	t.store.Set(t.next, no, id, buf)
	t.next++
	t.store.SetCount(t.next)
	return nil
}

func (t *densePullTarget) updateFlag(no int64, flag int) error {
	if !t.store.UpdateFlag(no, byte(flag)) {
		return ErrNoData
	}
	return nil
}

func (t *densePullTarget) getLastNo() int64 { return t.store.GetLastNo() }
func (t *densePullTarget) setLastNo(no int64) error {
	t.store.SetLastNo(no)
	return nil
}
func (t *densePullTarget) getLastCommitNo() int64 { return t.store.GetLastCommitNo() }
func (t *densePullTarget) setLastCommitNo(no int64) error {
	t.store.SetLastCommitNo(no)
	return nil
}
func (t *densePullTarget) sync() error { return t.store.Sync() }
