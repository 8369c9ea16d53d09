package ingest

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/errors"
)

// ManifestName is the required descriptor at the archive root. An archive
// without it cannot be ingested.
const ManifestName = "manifest.yaml"

// ParseManifest decodes and validates the archive manifest. Unknown fields
// are rejected: a typo in a manifest must fail loudly, not silently drop a
// confidentiality level.
func ParseManifest(data []byte) (*domain.Manifest, error) {
	var m domain.Manifest
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, errors.InvalidInput("manifest is not valid YAML", err)
	}
	if err := validateManifest(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func validateManifest(m *domain.Manifest) error {
	if m.ProjectID == "" {
		return errors.InvalidInput("manifest: project_id is required", nil)
	}
	if m.ObjectID == "" {
		return errors.InvalidInput("manifest: object_id is required", nil)
	}
	switch m.Phase {
	case domain.PhasePD, domain.PhaseRD, domain.PhaseAsBuilt:
	default:
		return errors.InvalidInput(
			fmt.Sprintf("manifest: phase must be pd, rd or asbuilt, got %q", m.Phase), nil)
	}
	switch m.Confidentiality {
	case "":
		// Every chunk carries at least internal confidentiality.
		m.Confidentiality = domain.ConfidentialityInternal
	case domain.ConfidentialityPublic, domain.ConfidentialityInternal,
		domain.ConfidentialityConfidential, domain.ConfidentialitySecret:
	default:
		return errors.InvalidInput(
			fmt.Sprintf("manifest: unknown confidentiality %q", m.Confidentiality), nil)
	}
	if m.DefaultDiscipline != "" && !validDiscipline(m.DefaultDiscipline) {
		return errors.InvalidInput(
			fmt.Sprintf("manifest: unknown default_discipline %q", m.DefaultDiscipline), nil)
	}
	return nil
}

func validDiscipline(d domain.Discipline) bool {
	switch d {
	case domain.DisciplineProcess, domain.DisciplinePiping, domain.DisciplineCivil,
		domain.DisciplineElec, domain.DisciplineInstr, domain.DisciplineHVAC,
		domain.DisciplineProcurement:
		return true
	}
	return false
}

// InferDiscipline resolves a document's discipline from its path tokens,
// falling back to the manifest default.
func InferDiscipline(relPath string, fallback domain.Discipline) domain.Discipline {
	for _, token := range pathTokens(relPath) {
		if d := domain.Discipline(token); validDiscipline(d) {
			return d
		}
	}
	return fallback
}

// docTypeByToken maps layout directory names to document types.
var docTypeByToken = map[string]domain.DocType{
	"pid":      domain.DocTypePID,
	"p&id":     domain.DocTypePID,
	"pfd":      domain.DocTypePFD,
	"spec":     domain.DocTypeSpec,
	"specs":    domain.DocTypeSpec,
	"bom":      domain.DocTypeBOM,
	"boq":      domain.DocTypeBOQ,
	"drawing":  domain.DocTypeDrawing,
	"drawings": domain.DocTypeDrawing,
	"ifc":      domain.DocTypeIFC,
	"manual":   domain.DocTypeManual,
	"manuals":  domain.DocTypeManual,
}

// InferDocType resolves a document's type from its path tokens; anything
// unrecognised is a REPORT.
func InferDocType(relPath string) domain.DocType {
	for _, token := range pathTokens(relPath) {
		if t, ok := docTypeByToken[token]; ok {
			return t
		}
	}
	if strings.EqualFold(path.Ext(relPath), ".ifc") {
		return domain.DocTypeIFC
	}
	return domain.DocTypeReport
}

func pathTokens(relPath string) []string {
	parts := strings.Split(path.Dir(relPath), "/")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" && p != "." {
			tokens = append(tokens, strings.ToLower(p))
		}
	}
	return tokens
}

// revisionRe matches a revision tag embedded in a file name, e.g.
// "1234-PID-002_revB" or "spec-rev3".
var revisionRe = regexp.MustCompile(`(?i)[_-]rev[._-]?([0-9A-Za-z]+)$`)

// SplitDocNo derives the document number and revision tag from a file name.
// The number is the stem with any revision suffix stripped.
func SplitDocNo(relPath string) (docNo, revision string) {
	stem := strings.TrimSuffix(path.Base(relPath), path.Ext(relPath))
	if m := revisionRe.FindStringSubmatch(stem); m != nil {
		return stem[:len(stem)-len(m[0])], m[1]
	}
	return stem, ""
}
