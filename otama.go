package otama

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/otama-go/otama/pkg/driver"
	"github.com/otama-go/otama/pkg/otid"
)

// Query is the facade's query argument (spec §6): exactly one source
// field should be supplied per call. File/Data name an image to
// extract a feature from, which requires an external numerics library
// spec §1 places out of scope — those calls surface ErrNotImplemented
// once the underlying driver reaches resolveFeature. String carries an
// already-serialized feature (FeatureString's output); ID looks up a
// persisted record by its 40-hex id.
type Query struct {
	File   string
	Data   []byte
	String string
	ID     string
}

// Result is one search hit, the facade's id-as-hex rendering of
// driver.Result.
type Result struct {
	ID         string
	Similarity float32
}

var errHandleClosed = fmt.Errorf("%w: handle is closed", ErrInvalidArguments)

// Handle is the opaque facade handle (spec §6), wrapping the
// pkg/driver.Driver bound to Config.DriverName.
type Handle struct {
	mu     sync.Mutex
	cfg    *Config
	drv    driver.Driver
	logger Logger
	pullSF singleflight.Group
}

// Open constructs and opens a Handle from an already-loaded Config.
func Open(cfg *Config) (*Handle, error) {
	d, err := driver.New(cfg.DriverName, cfg.Driver, cfg.StorageKind)
	if err != nil {
		return nil, WrapError("open", fmt.Errorf("%w: %v", ErrInvalidArguments, err))
	}
	if err := d.Open(); err != nil {
		return nil, WrapError("open", fmt.Errorf("%w: %v", ErrSystem, err))
	}

	logger := DefaultLogger()
	if cfg.LogPath != "" {
		l, err := SetLogOutput(cfg.LogPath, cfg.LogLevel)
		if err != nil {
			d.Close()
			return nil, WrapError("open", err)
		}
		logger = l
	}
	logger.Notice("driver opened", "namespace", cfg.Namespace, "driver", cfg.DriverName)

	return &Handle{cfg: cfg, drv: d, logger: logger}, nil
}

// OpenPath loads a YAML configuration file (spec §6 open_path) and
// opens a Handle from it.
func OpenPath(path string) (*Handle, error) {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	return Open(cfg)
}

// Close releases the underlying driver. Calling Close on an
// already-closed Handle is a no-op, matching the original's tolerance
// of a double otama_close.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.drv == nil {
		return nil
	}
	err := h.drv.Close()
	h.drv = nil
	if err != nil {
		return WrapError("close", fmt.Errorf("%w: %v", ErrSystem, err))
	}
	return nil
}

func (h *Handle) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.drv != nil && h.drv.Active()
}

func (h *Handle) requireActive() error {
	if h.drv == nil {
		return errHandleClosed
	}
	return nil
}

func (h *Handle) Count() (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireActive(); err != nil {
		return 0, WrapError("count", err)
	}
	n, err := h.drv.Count()
	if err != nil {
		return 0, WrapError("count", translateDriverErr(err))
	}
	return n, nil
}

func (h *Handle) CreateDatabase() error {
	return h.dispatch("create_database", func() error { return h.drv.CreateDatabase() })
}

func (h *Handle) DropDatabase() error {
	return h.dispatch("drop_database", func() error { return h.drv.DropDatabase() })
}

func (h *Handle) DropIndex() error {
	return h.dispatch("drop_index", func() error { return h.drv.DropIndex() })
}

func (h *Handle) VacuumIndex() error {
	return h.dispatch("vacuum_index", func() error { return h.drv.Vacuum() })
}

// Pull drives the driver's pull phase (spec §4.7): fetch new master
// rows and flag updates not yet reflected in the local store.
// Concurrent callers collapse onto a single in-flight pull via
// singleflight rather than serializing one redundant scan behind
// another: pull always converges to the same post-state regardless of
// how many callers triggered it, so sharing one pass is correct.
func (h *Handle) Pull() error {
	_, err, _ := h.pullSF.Do("pull", func() (any, error) {
		return nil, h.dispatch("pull", func() error { return h.drv.Pull() })
	})
	return err
}

func (h *Handle) dispatch(op string, fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireActive(); err != nil {
		return WrapError(op, err)
	}
	if err := fn(); err != nil {
		return WrapError(op, translateDriverErr(err))
	}
	return nil
}

func toDriverQuery(q Query) (driver.Query, error) {
	dq := driver.Query{File: q.File, Data: q.Data, String: q.String}
	if q.ID != "" {
		id, err := otid.FromHex(q.ID)
		if err != nil {
			return driver.Query{}, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		dq.ID = id
		dq.HasID = true
	}
	return dq, nil
}

// Insert serializes q's feature (or reuses q.ID's) into the master
// relation and returns its id (spec §6 insert).
func (h *Handle) Insert(q Query) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireActive(); err != nil {
		return "", WrapError("insert", err)
	}
	dq, err := toDriverQuery(q)
	if err != nil {
		return "", WrapError("insert", err)
	}
	id, err := h.drv.Insert(dq)
	if err != nil {
		return "", WrapError("insert", translateDriverErr(err))
	}
	return id.String(), nil
}

// Exists reports whether id has a row in the master relation. Remove only
// flags that row, so a removed record still reports true.
func (h *Handle) Exists(id string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireActive(); err != nil {
		return false, WrapError("exists", err)
	}
	oid, err := otid.FromHex(id)
	if err != nil {
		return false, WrapError("exists", fmt.Errorf("%w: %v", ErrInvalidArguments, err))
	}
	ok, err := h.drv.Exists(oid)
	if err != nil {
		return false, WrapError("exists", translateDriverErr(err))
	}
	return ok, nil
}

// Remove flags id as deleted at the master relation; pull propagates
// the flag to local stores (spec §4.2).
func (h *Handle) Remove(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireActive(); err != nil {
		return WrapError("remove", err)
	}
	oid, err := otid.FromHex(id)
	if err != nil {
		return WrapError("remove", fmt.Errorf("%w: %v", ErrInvalidArguments, err))
	}
	if err := h.drv.Remove(oid); err != nil {
		return WrapError("remove", translateDriverErr(err))
	}
	return nil
}

// Search ranks the local store against q and returns its top n hits in
// descending similarity order (spec §6 search).
func (h *Handle) Search(n int, q Query) ([]Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireActive(); err != nil {
		return nil, WrapError("search", err)
	}
	dq, err := toDriverQuery(q)
	if err != nil {
		return nil, WrapError("search", err)
	}
	hits, err := h.drv.Search(n, dq)
	if err != nil {
		return nil, WrapError("search", translateDriverErr(err))
	}
	out := make([]Result, len(hits))
	for i, r := range hits {
		out[i] = Result{ID: r.ID.String(), Similarity: r.Similarity}
	}
	return out, nil
}

func (h *Handle) SearchFile(path string, n int) ([]Result, error) { return h.Search(n, Query{File: path}) }
func (h *Handle) SearchData(data []byte, n int) ([]Result, error) { return h.Search(n, Query{Data: data}) }
func (h *Handle) SearchString(s string, n int) ([]Result, error)  { return h.Search(n, Query{String: s}) }
func (h *Handle) SearchID(id string, n int) ([]Result, error)     { return h.Search(n, Query{ID: id}) }

// SearchRaw would rank against an owned raw handle from FeatureRaw;
// raw handles are out of scope (spec §1's external extractor
// boundary), so this always fails.
func (h *Handle) SearchRaw(raw any, n int) ([]Result, error) {
	return nil, WrapError("search_raw", ErrNotImplemented)
}

// Similarity scores a against b without touching the local store
// (spec §6 similarity).
func (h *Handle) Similarity(a, b Query) (float32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireActive(); err != nil {
		return 0, WrapError("similarity", err)
	}
	da, err := toDriverQuery(a)
	if err != nil {
		return 0, WrapError("similarity", err)
	}
	db, err := toDriverQuery(b)
	if err != nil {
		return 0, WrapError("similarity", err)
	}
	sim, err := h.drv.Similarity(da, db)
	if err != nil {
		return 0, WrapError("similarity", translateDriverErr(err))
	}
	return sim, nil
}

func (h *Handle) SimilarityFile(a, b string) (float32, error) {
	return h.Similarity(Query{File: a}, Query{File: b})
}
func (h *Handle) SimilarityData(a, b []byte) (float32, error) {
	return h.Similarity(Query{Data: a}, Query{Data: b})
}
func (h *Handle) SimilarityString(a, b string) (float32, error) {
	return h.Similarity(Query{String: a}, Query{String: b})
}
func (h *Handle) SimilarityID(a, b string) (float32, error) {
	return h.Similarity(Query{ID: a}, Query{ID: b})
}
func (h *Handle) SimilarityRaw(a, b any) (float32, error) {
	return 0, WrapError("similarity_raw", ErrNotImplemented)
}

// FeatureString returns q's serialized feature, resolving by id when
// q carries one (spec §6 feature_string).
func (h *Handle) FeatureString(q Query) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireActive(); err != nil {
		return "", WrapError("feature_string", err)
	}
	dq, err := toDriverQuery(q)
	if err != nil {
		return "", WrapError("feature_string", err)
	}
	s, err := h.drv.FeatureString(dq)
	if err != nil {
		return "", WrapError("feature_string", translateDriverErr(err))
	}
	return s, nil
}

// FeatureRaw would extract and return an owned raw handle; raw handles
// are out of scope (spec §1), so this always fails.
func (h *Handle) FeatureRaw(q Query) (any, error) {
	return nil, WrapError("feature_raw", ErrNotImplemented)
}

// Set/Get/Unset/Invoke dispatch to the driver's family-specific
// control channel (spec §6): color_weight, color_method,
// color_threshold, rerank_method, strip, hit_threshold as
// set/get/unset keys; update_idf/print_idf as invoke methods.
func (h *Handle) Set(key, value string) error {
	return h.dispatch("set", func() error { return h.drv.Set(key, value) })
}

func (h *Handle) Get(key string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireActive(); err != nil {
		return "", WrapError("get", err)
	}
	v, err := h.drv.Get(key)
	if err != nil {
		return "", WrapError("get", translateDriverErr(err))
	}
	return v, nil
}

func (h *Handle) Unset(key string) error {
	return h.dispatch("unset", func() error { return h.drv.Unset(key) })
}

func (h *Handle) Invoke(method, in string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireActive(); err != nil {
		return "", WrapError("invoke", err)
	}
	out, err := h.drv.Invoke(method, in)
	if err != nil {
		return "", WrapError("invoke", translateDriverErr(err))
	}
	return out, nil
}

// translateDriverErr maps pkg/driver's error taxonomy onto the
// facade's six-kind one (spec §7), preserving the underlying error
// via %w so errors.Is still reaches the original sentinel.
func translateDriverErr(err error) error {
	switch {
	case errors.Is(err, driver.ErrNoData):
		return fmt.Errorf("%w: %v", ErrNoData, err)
	case errors.Is(err, driver.ErrInvalidArguments),
		errors.Is(err, driver.ErrNoQuerySource),
		errors.Is(err, driver.ErrUnknownFamily),
		errors.Is(err, driver.ErrUnknownDatabaseDriver),
		errors.Is(err, driver.ErrNotActive):
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	case errors.Is(err, driver.ErrAssertionFailure):
		return fmt.Errorf("%w: %v", ErrAssertionFailure, err)
	case errors.Is(err, driver.ErrExternalExtractionRequired):
		return fmt.Errorf("%w: %v", ErrNotImplemented, err)
	default:
		return fmt.Errorf("%w: %v", ErrSystem, err)
	}
}

// IDFromFile hashes a file's contents into a 40-hex id (spec §6
// id_from_file).
func IDFromFile(path string) (string, error) {
	id, err := otid.OfFile(path)
	if err != nil {
		return "", WrapError("id_from_file", fmt.Errorf("%w: %v", ErrSystem, err))
	}
	return id.String(), nil
}

// IDFromData hashes raw bytes into a 40-hex id (spec §6 id_from_data).
// Always succeeds.
func IDFromData(data []byte) string {
	return otid.OfData(data).String()
}

// IDBin2Hex renders a 20-byte binary id as 40-hex.
func IDBin2Hex(bin []byte) (string, error) {
	id, err := otid.FromBytes(bin)
	if err != nil {
		return "", WrapError("id_bin2hex", fmt.Errorf("%w: %v", ErrInvalidArguments, err))
	}
	return id.String(), nil
}

// IDHex2Bin decodes a 40-hex id into its 20-byte binary form.
func IDHex2Bin(hexID string) ([]byte, error) {
	id, err := otid.FromHex(hexID)
	if err != nil {
		return nil, WrapError("id_hex2bin", fmt.Errorf("%w: %v", ErrInvalidArguments, err))
	}
	return id.Bytes(), nil
}
