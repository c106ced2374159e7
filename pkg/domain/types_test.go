package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nstogner/pare/pkg/domain"
)

func TestCanonicalJSONSortsKeysAndStripsWhitespace(t *testing.T) {
	a := domain.CanonicalJSON(`{"b": 1, "a": "x"}`)
	b := domain.CanonicalJSON(`{ "a" : "x" , "b" : 1 }`)
	assert.Equal(t, a, b)
	assert.Equal(t, `{"a":"x","b":1}`, a)
}

func TestCanonicalJSONNested(t *testing.T) {
	out := domain.CanonicalJSON(`{"z": {"k2": 2, "k1": 1}, "a": [3, {"y": 1, "x": 2}]}`)
	assert.Equal(t, `{"a":[3,{"x":2,"y":1}],"z":{"k1":1,"k2":2}}`, out)
}

func TestCanonicalJSONNonJSONFallsBack(t *testing.T) {
	assert.Equal(t, "not json", domain.CanonicalJSON("  not json  "))
}

func TestToolFingerprint(t *testing.T) {
	fp1 := domain.ToolFingerprint("search", `{"pattern":"TODO","path":"."}`)
	fp2 := domain.ToolFingerprint("search", `{"path":".", "pattern":"TODO"}`)
	assert.Equal(t, fp1, fp2)

	fp3 := domain.ToolFingerprint("bash", `{"pattern":"TODO","path":"."}`)
	assert.NotEqual(t, fp1, fp3, "tool name is part of the fingerprint")
}
