package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildFilterEmpty(t *testing.T) {
	assert.Nil(t, buildFilter("", "", nil, ""))
}

func TestBuildFilterEquals(t *testing.T) {
	f := buildFilter("prj-1", "obj-2", nil, "PS-100")
	assert.NotNil(t, f)
	assert.Equal(t, "prj-1", f.Equals["project_id"])
	assert.Equal(t, "obj-2", f.Equals["object_id"])
	assert.Equal(t, "PS-100", f.Equals["doc_no"])
	assert.Empty(t, f.In)
}

func TestBuildFilterDisciplines(t *testing.T) {
	f := buildFilter("", "", []string{"process", "piping"}, "")
	assert.NotNil(t, f)
	assert.Equal(t, []string{"process", "piping"}, f.In["discipline"])
	assert.Empty(t, f.Equals)
}
