package driver

import "errors"

var (
	// ErrUnknownDatabaseDriver: Config.Database.Driver names a dialect
	// pkg/master doesn't implement.
	ErrUnknownDatabaseDriver = errors.New("driver: unknown database driver")
	// ErrUnknownFamily: Config/registry lookup by driver.name found
	// nothing registered.
	ErrUnknownFamily = errors.New("driver: unknown family")
	// ErrNoQuerySource: a Query had none of File/Data/String/ID set.
	ErrNoQuerySource = errors.New("driver: no query source")
	// ErrNotActive: an operation was attempted on a closed driver.
	ErrNotActive = errors.New("driver: not active")
	// ErrNoData: a lookup by id found no persisted record.
	ErrNoData = errors.New("driver: no data")
	// ErrAssertionFailure: a master row's vector string failed to
	// deserialize during pull (spec §4.7: "parse failure → status
	// ASSERTION_FAILURE, abort").
	ErrAssertionFailure = errors.New("driver: assertion failure")
	// ErrExternalExtractionRequired: a Query supplied a raw file/image
	// to extract a feature from, which requires the external numerics
	// library spec §1 places out of scope.
	ErrExternalExtractionRequired = errors.New("driver: feature extraction from file/data requires an external extractor")
	// ErrInvalidArguments: Set/Get/Unset/Invoke named a key or method
	// this driver doesn't recognize, or a value failed to parse.
	ErrInvalidArguments = errors.New("driver: invalid arguments")
)
