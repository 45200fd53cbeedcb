package utils

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateID(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	id := GenerateID(ts)
	assert.Regexp(t, regexp.MustCompile(`^2024-03-09_14-05-07_[a-z0-9]{6}$`), id)
	assert.NotEqual(t, id, GenerateID(ts))
}

func TestFolderFriendly(t *testing.T) {
	cases := map[string]string{
		" New Microsoft Product! - ": "new-microsoft-product",
		"Search by Country":          "search-by-country",
		"a__b--c":                    "a_b-c",
		"___":                        "",
		"Login (SSO)":                "login-sso",
	}
	for in, want := range cases {
		assert.Equal(t, want, FolderFriendly(in), in)
	}
}

func TestFolderFriendlyList(t *testing.T) {
	assert.Equal(t, []string{"acme", "search", "by-country"}, FolderFriendlyList("Acme", "", "  ", "Search", "By Country"))
}

func TestMergeMaps(t *testing.T) {
	start := map[string]string{"a": "1", "b": "2"}
	finish := map[string]string{"b": "3", "c": "4"}

	merged := MergeMaps(start, finish)
	assert.Equal(t, map[string]string{"a": "1", "b": "3", "c": "4"}, merged)
	assert.Equal(t, "2", start["b"], "inputs are not modified")
	assert.NotNil(t, MergeMaps(nil, nil))
}
