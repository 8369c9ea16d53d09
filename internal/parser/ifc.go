package parser

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/errors"
)

// IFCParser reads IFC building models in STEP physical file format. Only
// product entities (pumps, valves, pipe segments, and the rest of the
// element taxonomy) are extracted; geometry and relationship entities carry
// no searchable text and are skipped.
type IFCParser struct{}

func NewIFCParser() *IFCParser { return &IFCParser{} }

func (p *IFCParser) Extensions() []string { return []string{".ifc"} }

// productPrefixes selects the IFC entity classes worth indexing.
var productPrefixes = []string{
	"IFCPUMP", "IFCVALVE", "IFCPIPE", "IFCDUCT", "IFCTANK", "IFCBOILER",
	"IFCCHILLER", "IFCCOMPRESSOR", "IFCFAN", "IFCFILTER", "IFCPUMPTYPE",
	"IFCFLOWMETER", "IFCELECTRICMOTOR", "IFCTRANSFORMER", "IFCCABLESEGMENT",
	"IFCCABLECARRIER", "IFCLIGHTFIXTURE", "IFCSWITCHINGDEVICE",
	"IFCWALL", "IFCSLAB", "IFCCOLUMN", "IFCBEAM", "IFCDOOR", "IFCWINDOW",
	"IFCSTAIR", "IFCROOF", "IFCFOOTING", "IFCPILE",
	"IFCBUILDINGELEMENTPROXY", "IFCDISTRIBUTIONELEMENT", "IFCFLOWSEGMENT",
	"IFCFLOWFITTING", "IFCFLOWTERMINAL", "IFCFLOWCONTROLLER",
	"IFCENERGYCONVERSIONDEVICE", "IFCSPACE", "IFCBUILDINGSTOREY",
}

// ifcModel accumulates the records needed to attach property sets to
// product instances: IfcRelDefinesByProperties links products to an
// IfcPropertySet, whose members are IfcPropertySingleValue records.
type ifcModel struct {
	blockByRef map[string]int      // product record ref -> index into blocks
	singles    map[string][2]string // property record ref -> {name, value}
	sets       map[string][]string  // property-set ref -> member refs
	rels       [][2][]string        // {product refs, property-set refs}
}

func (p *IFCParser) Parse(ctx context.Context, name string, data []byte) (*Result, error) {
	if !bytes.Contains(data[:min(len(data), 256)], []byte("ISO-10303-21")) {
		return nil, errors.InvalidInput(fmt.Sprintf("%s is not a STEP file", name), nil)
	}

	res := &Result{Method: domain.MethodNative}
	model := &ifcModel{
		blockByRef: map[string]int{},
		singles:    map[string][2]string{},
		sets:       map[string][]string{},
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	inData := false
	var pending strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "DATA;":
			inData = true
			continue
		case line == "ENDSEC;":
			inData = false
			continue
		}
		if !inData || line == "" {
			continue
		}

		// Instance records may span lines; accumulate until the terminator.
		pending.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			pending.WriteString(" ")
			continue
		}
		record := pending.String()
		pending.Reset()

		parseIFCRecord(record, res, model)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.InvalidInput(fmt.Sprintf("unreadable ifc %s", name), err)
	}

	model.attachProperties(res.Blocks)
	return res, nil
}

// parseIFCRecord dispatches one "#id=IFCTYPE(...);" record: product
// entities become blocks, property records are remembered for the
// attachment pass. By the IfcRoot schema the first string attribute is the
// GlobalId and the third is the Name.
func parseIFCRecord(record string, res *Result, model *ifcModel) {
	eq := strings.IndexByte(record, '=')
	open := strings.IndexByte(record, '(')
	if eq < 0 || open < 0 || open < eq {
		return
	}
	ref := strings.TrimSpace(record[:eq])
	entity := strings.ToUpper(strings.TrimSpace(record[eq+1 : open]))
	closeIdx := strings.LastIndexByte(record, ')')
	if closeIdx < open {
		return
	}
	attrs := splitSTEPAttrs(record[open+1 : closeIdx])

	switch {
	case entity == "IFCPROPERTYSINGLEVALUE":
		// ('Name', description, IFCREAL(110.), unit)
		if len(attrs) > 2 {
			if pname := stepString(attrs[0]); pname != "" {
				model.singles[ref] = [2]string{pname, stepTypedValue(attrs[2])}
			}
		}
	case entity == "IFCPROPERTYSET":
		// (GlobalId, owner, 'PsetName', description, (members))
		if len(attrs) > 4 {
			model.sets[ref] = stepRefList(attrs[4])
		}
	case entity == "IFCRELDEFINESBYPROPERTIES":
		// (GlobalId, owner, name, description, (products), propertySet)
		if len(attrs) > 5 {
			model.rels = append(model.rels, [2][]string{
				stepRefList(attrs[4]),
				{strings.TrimSpace(attrs[5])},
			})
		}
	case isProductEntity(entity):
		b := Block{Kind: BlockIFC, EntityType: entity, EntityCount: 1}
		if len(attrs) > 0 {
			b.EntityGUID = stepString(attrs[0])
		}
		var nameAttr, descAttr string
		if len(attrs) > 2 {
			nameAttr = stepString(attrs[2])
		}
		if len(attrs) > 3 {
			descAttr = stepString(attrs[3])
		}

		parts := []string{entity}
		if nameAttr != "" {
			parts = append(parts, nameAttr)
		}
		if descAttr != "" {
			parts = append(parts, descAttr)
		}
		b.Text = strings.Join(parts, " ")
		if nameAttr != "" {
			b.Properties = map[string]string{"Name": nameAttr}
		}
		model.blockByRef[ref] = len(res.Blocks)
		res.Blocks = append(res.Blocks, b)
	}
}

// attachProperties merges each property set's single values into the
// products it is related to, as a flat name/value map.
func (m *ifcModel) attachProperties(blocks []Block) {
	for _, rel := range m.rels {
		products, setRefs := rel[0], rel[1]
		for _, setRef := range setRefs {
			members, ok := m.sets[setRef]
			if !ok {
				continue
			}
			for _, prodRef := range products {
				idx, ok := m.blockByRef[prodRef]
				if !ok {
					continue
				}
				b := &blocks[idx]
				for _, memberRef := range members {
					pv, ok := m.singles[memberRef]
					if !ok || pv[1] == "" {
						continue
					}
					if b.Properties == nil {
						b.Properties = map[string]string{}
					}
					if _, exists := b.Properties[pv[0]]; !exists {
						b.Properties[pv[0]] = pv[1]
					}
				}
			}
		}
	}
}

func isProductEntity(entity string) bool {
	for _, prefix := range productPrefixes {
		if strings.HasPrefix(entity, prefix) {
			return true
		}
	}
	return false
}

// splitSTEPAttrs splits a STEP attribute list on top-level commas, keeping
// quoted strings and nested aggregates intact.
func splitSTEPAttrs(s string) []string {
	var attrs []string
	depth := 0
	inStr := false
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'':
			// STEP escapes a quote by doubling it.
			if inStr && i+1 < len(s) && s[i+1] == '\'' {
				i++
				continue
			}
			inStr = !inStr
		case inStr:
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			attrs = append(attrs, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	attrs = append(attrs, strings.TrimSpace(s[start:]))
	return attrs
}

// stepRefList splits an aggregate of instance references, "(#10,#11)",
// into its members.
func stepRefList(attr string) []string {
	attr = strings.TrimSpace(attr)
	if len(attr) < 2 || attr[0] != '(' || attr[len(attr)-1] != ')' {
		return nil
	}
	var refs []string
	for _, part := range strings.Split(attr[1:len(attr)-1], ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "#") {
			refs = append(refs, part)
		}
	}
	return refs
}

// stepTypedValue unwraps a typed select value such as IFCREAL(110.) or
// IFCTEXT('nominal'); plain strings pass through stepString.
func stepTypedValue(attr string) string {
	attr = strings.TrimSpace(attr)
	if attr == "$" || attr == "*" {
		return ""
	}
	if open := strings.IndexByte(attr, '('); open >= 0 && strings.HasSuffix(attr, ")") {
		inner := strings.TrimSpace(attr[open+1 : len(attr)-1])
		if s := stepString(inner); s != "" {
			return s
		}
		// STEP reals carry a trailing dot, "110." means 110.
		return strings.TrimSuffix(inner, ".")
	}
	return stepString(attr)
}

// stepString unquotes a STEP string attribute; "$" and "*" mean unset.
func stepString(attr string) string {
	if attr == "$" || attr == "*" || len(attr) < 2 {
		return ""
	}
	if attr[0] == '\'' && attr[len(attr)-1] == '\'' {
		return strings.ReplaceAll(attr[1:len(attr)-1], "''", "'")
	}
	return ""
}
