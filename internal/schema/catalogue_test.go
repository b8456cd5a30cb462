package schema

import (
	"encoding/json"
	"testing"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbc/nmos-discovery-registration-ri/internal/resource"
)

func newTestCatalogue(t *testing.T) *Catalogue {
	t.Helper()
	c, err := NewCatalogue()
	require.NoError(t, err)
	return c
}

func baseNodeV12() map[string]interface{} {
	return map[string]interface{}{
		"id":               "c9a7f4f0-1234-4abc-8def-0123456789ab",
		"version":          "0:0",
		"label":            "test node",
		"href":             "http://example.test/",
		"caps":             map[string]interface{}{},
		"services":         []interface{}{},
		"description":      "a node stored at v1.2",
		"tags":             map[string]interface{}{},
		"clocks":           []interface{}{},
		"interfaces":       []interface{}{},
		FieldAPIVersionKey: string(V12),
	}
}

func TestValidate(t *testing.T) {
	c := newTestCatalogue(t)
	err := c.Validate(resource.KindNode, V10, map[string]interface{}{
		"id": "c9a7f4f0-1234-4abc-8def-0123456789ab", "version": "0:0",
		"label": "n", "href": "http://x/", "caps": map[string]interface{}{}, "services": []interface{}{},
	})
	assert.NoError(t, err)

	err = c.Validate(resource.KindNode, V10, map[string]interface{}{"id": "x"})
	assert.Error(t, err, "an incomplete record should fail validation")
}

// TestLegaliseDropsNewerFields checks the stripped v1.0 projection against
// the original v1.2 record with a JSON merge patch diff: every field the
// diff reports removed must be one v1.0 does not declare, and the
// projection itself must still be valid, round-trippable JSON.
func TestLegaliseDropsNewerFields(t *testing.T) {
	c := newTestCatalogue(t)
	original := baseNodeV12()
	legalised, err := c.Legalise(resource.KindNode, V10, original)
	require.NoError(t, err)

	originalJSON, err := json.Marshal(original)
	require.NoError(t, err)
	legalisedJSON, err := json.Marshal(legalised)
	require.NoError(t, err, "the legalised projection must still marshal to sane JSON")

	patch, err := jsonpatch.CreateMergePatch(originalJSON, legalisedJSON)
	require.NoError(t, err)
	var diff map[string]interface{}
	require.NoError(t, json.Unmarshal(patch, &diff))

	newer := []string{"description", "tags", "clocks", "interfaces", FieldAPIVersionKey}
	for _, field := range newer {
		val, removed := diff[field]
		assert.True(t, removed, "merge patch diff should mark %q as removed", field)
		assert.Nil(t, val, "a removed field is represented as null in a merge patch")
		_, stillPresent := legalised[field]
		assert.False(t, stillPresent, "legalised record should not carry %q", field)
	}
	for _, kept := range []string{"id", "label", "href"} {
		_, inDiff := diff[kept]
		assert.False(t, inDiff, "merge patch diff should not touch unchanged field %q", kept)
		_, present := legalised[kept]
		assert.True(t, present, "legalised record should keep %q", kept)
	}

	// Re-applying the diff to the original must reproduce the legalised
	// record exactly, confirming the projection is a faithful structural
	// subset rather than a lossy rewrite.
	applied, err := jsonpatch.MergePatch(originalJSON, patch)
	require.NoError(t, err)
	var roundTripped map[string]interface{}
	require.NoError(t, json.Unmarshal(applied, &roundTripped))
	assert.Equal(t, legalised, roundTripped)
}

func TestDowngradeSameVersionIsLegalisedOnly(t *testing.T) {
	c := newTestCatalogue(t)
	out, ok, err := c.Downgrade(resource.KindNode, baseNodeV12(), V12, "")
	require.NoError(t, err)
	require.True(t, ok)
	_, present := out[FieldAPIVersionKey]
	assert.False(t, present, "Downgrade() must strip the apiversion metadata attribute")
}

func TestDowngradeWithoutConsentOmitsRecord(t *testing.T) {
	c := newTestCatalogue(t)
	// Stored at v1.2, asking for v1.0 with no query.downgrade: more than
	// one minor version below, so the record must be omitted entirely.
	_, ok, err := c.Downgrade(resource.KindNode, baseNodeV12(), V10, "")
	require.NoError(t, err)
	assert.False(t, ok, "a record more than one minor version above the target should be omitted without explicit consent")
}

func TestDowngradeOneMinorVersionImplicitlyAllowed(t *testing.T) {
	c := newTestCatalogue(t)
	// Stored at v1.2, asking for v1.1 with no explicit query.downgrade:
	// exactly one minor version down is allowed by default.
	out, ok, err := c.Downgrade(resource.KindNode, baseNodeV12(), V11, "")
	require.NoError(t, err)
	require.True(t, ok, "exactly one minor version down should be implicitly allowed")
	_, present := out["description"]
	assert.False(t, present, "downgrade to v1.1 should have dropped v1.2-only fields")
}

func TestDowngradeExplicitFloorAllowsDeeperProjection(t *testing.T) {
	c := newTestCatalogue(t)
	out, ok, err := c.Downgrade(resource.KindNode, baseNodeV12(), V10, V10)
	require.NoError(t, err)
	require.True(t, ok, "an explicit query.downgrade floor should be honoured")
	_, present := out["interfaces"]
	assert.False(t, present, "downgrade to v1.0 should have dropped v1.2-only fields")
}

func TestStoredVersionDefaultsToV10(t *testing.T) {
	assert.Equal(t, V10, StoredVersion(map[string]interface{}{}))
}
