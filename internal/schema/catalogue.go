package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/bbc/nmos-discovery-registration-ri/internal/resource"
)

//go:embed schemas
var embeddedSchemas embed.FS

// FieldAPIVersionKey is the metadata attribute stamped onto every stored
// record naming the API version it was registered under. It is always
// stripped before any external projection.
const FieldAPIVersionKey = "@_apiversion"

type compiledVersion struct {
	schema *gojsonschema.Schema
	// fields is the set of top-level property names this
	// version's schema declares; legalise keeps exactly these.
	fields map[string]struct{}
}

// Catalogue holds, for each (kind, version), a compiled JSON Schema and
// the allowed field set used for downgrade projections.
type Catalogue struct {
	mu   sync.RWMutex
	data map[resource.Kind]map[Version]*compiledVersion
}

// NewCatalogue loads and compiles every schemas/<kind>/<version>.json
// document embedded in the binary. An operator may additionally layer
// on-disk overrides via LoadOverride (used for --schema-dir hot reload).
func NewCatalogue() (*Catalogue, error) {
	c := &Catalogue{data: make(map[resource.Kind]map[Version]*compiledVersion)}
	for _, kind := range resource.Kinds {
		c.data[kind] = make(map[Version]*compiledVersion)
		for _, ver := range Versions {
			path := fmt.Sprintf("schemas/%s/%s.json", kind, ver)
			raw, err := embeddedSchemas.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("loading embedded schema %s: %w", path, err)
			}
			cv, err := compile(raw)
			if err != nil {
				return nil, fmt.Errorf("compiling schema %s: %w", path, err)
			}
			c.data[kind][ver] = cv
		}
	}
	return c, nil
}

func compile(raw []byte) (*compiledVersion, error) {
	loader := gojsonschema.NewBytesLoader(raw)
	s, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	fields := make(map[string]struct{}, len(doc.Properties))
	for name := range doc.Properties {
		fields[name] = struct{}{}
	}
	return &compiledVersion{schema: s, fields: fields}, nil
}

// LoadOverride recompiles the schema for (kind, version) from raw bytes,
// replacing the embedded definition. Used by the --schema-dir watcher.
func (c *Catalogue) LoadOverride(kind resource.Kind, ver Version, raw []byte) error {
	cv, err := compile(raw)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data[kind] == nil {
		c.data[kind] = make(map[Version]*compiledVersion)
	}
	c.data[kind][ver] = cv
	return nil
}

func (c *Catalogue) get(kind resource.Kind, ver Version) (*compiledVersion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byVer, ok := c.data[kind]
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	cv, ok := byVer[ver]
	if !ok {
		return nil, fmt.Errorf("no schema for kind %q version %q", kind, ver)
	}
	return cv, nil
}

// Validate checks fields against the (kind, version) schema and returns
// a human-readable error describing every violation, matching the
// registration core's 400-with-message behaviour.
func (c *Catalogue) Validate(kind resource.Kind, ver Version, fields map[string]interface{}) error {
	cv, err := c.get(kind, ver)
	if err != nil {
		return err
	}
	result, err := cv.schema.Validate(gojsonschema.NewGoLoader(fields))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema violation for %s %s: %v", kind, ver, msgs)
	}
	return nil
}

// Legalise returns a shallow copy of fields containing exactly the
// fields declared for (kind, targetVersion); everything else (including
// fields newer than targetVersion and the apiversion metadata attribute)
// is dropped.
func (c *Catalogue) Legalise(kind resource.Kind, ver Version, fields map[string]interface{}) (map[string]interface{}, error) {
	cv, err := c.get(kind, ver)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(cv.fields))
	for name := range cv.fields {
		if v, ok := fields[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

// StoredVersion extracts the @_apiversion metadata attribute from a
// stored record, defaulting to v1.0 when absent, grounded on
// version_transforms.py's implicit default.
func StoredVersion(fields map[string]interface{}) Version {
	raw, ok := fields[FieldAPIVersionKey]
	if !ok {
		return V10
	}
	s, ok := raw.(string)
	if !ok || !Valid(Version(s)) {
		return V10
	}
	return Version(s)
}

// Downgrade projects a stored record to targetVersion. If the stored
// version exceeds targetVersion by more than the caller has explicitly
// allowed via downgradeFloor, ok is false and the record must be
// omitted from the response entirely.
//
// downgradeFloor is the minimum version the stored record may have been
// registered at and still be returned; pass "" when the caller supplied
// no query.downgrade parameter, in which case a record stored exactly
// one minor version above targetVersion is still downgraded and
// returned, and anything further above is omitted.
func (c *Catalogue) Downgrade(kind resource.Kind, fields map[string]interface{}, targetVersion Version, downgradeFloor Version) (map[string]interface{}, bool, error) {
	stored := StoredVersion(fields)

	if targetVersion.GreaterThan(stored) {
		// Requesting a higher version than the record was stored at:
		// there is nothing to upgrade to, so the record is returned as
		// stored without further action (callers only request versions
		// the catalogue supports).
		legalised, err := c.Legalise(kind, stored, fields)
		return legalised, true, err
	}
	if targetVersion.Equal(stored) {
		legalised, err := c.Legalise(kind, targetVersion, fields)
		return legalised, true, err
	}

	// stored > targetVersion: only permitted if explicitly allowed.
	if downgradeFloor != "" && stored.AtLeast(downgradeFloor) {
		legalised, err := c.Legalise(kind, targetVersion, fields)
		return legalised, true, err
	}
	if downgradeFloor == "" {
		// Default policy: downgrade by exactly one minor version is
		// permitted even without an explicit query.downgrade parameter.
		major, minor, err := stored.components()
		if err == nil {
			tMajor, tMinor, terr := targetVersion.components()
			if terr == nil && major == tMajor && minor-tMinor == 1 {
				legalised, lerr := c.Legalise(kind, targetVersion, fields)
				return legalised, true, lerr
			}
		}
	}
	return nil, false, nil
}
