package storage

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateInstanceID(t *testing.T) {
	a := GenerateInstanceID()
	b := GenerateInstanceID()

	host, _ := os.Hostname()
	assert.True(t, strings.HasPrefix(a, host+"-"))
	assert.NotEqual(t, a, b)
}
