package signal

import "gnomepatch/internal/classfile"

// Hit is a string constant loaded by a method that carries signal.
type Hit struct {
	Method     string   `json:"method"`
	Offset     int      `json:"offset"`
	Value      string   `json:"value"`
	Categories []string `json:"categories"`
	Severity   string   `json:"severity"`
}

// ScanClass classifies every string constant loaded by cf's methods.
func ScanClass(cf *classfile.ClassFile) []Hit {
	var hits []Hit
	for _, m := range cf.Methods {
		if m.Code == nil {
			continue
		}
		for i := range m.Code.Insns {
			in := &m.Code.Insns[i]
			if in.Kind() != classfile.KindLdc {
				continue
			}
			s, ok := cf.Pool.StringValue(in.Index)
			if !ok {
				continue
			}
			cats := ClassifyString(s)
			if len(cats) == 0 {
				continue
			}
			hits = append(hits, Hit{
				Method:     m.Name + m.Descriptor,
				Offset:     in.Offset,
				Value:      s,
				Categories: cats,
				Severity:   MaxSeverity(cats),
			})
		}
	}
	return hits
}
