package services

import (
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Mapper transforms the raw parsed fields of one submission into the stored
// domain model. Mappers are pure: they must not mutate their inputs.
// Malformed individual fields are skipped and never abort the submission;
// partial available data beats strict validation here.
type Mapper func(fields []Field, meta map[string]string) map[string]any

// MapperRegistry looks up the transformation for a form key. It is built
// once by the constructor and passed by reference into the router; there is
// no ambient global registry.
type MapperRegistry struct {
	mappers map[string]Mapper
}

// NewMapperRegistry creates a registry with the built-in form mappers.
func NewMapperRegistry() *MapperRegistry {
	r := &MapperRegistry{mappers: make(map[string]Mapper)}
	r.Register("s2006_creditors_public", MapCreditorsSchedule)
	r.Register("s2006_creditors_lender", MapCreditorsSchedule)
	r.Register("s2002_household", MapHousehold)
	return r
}

// Register binds a form key to a mapper. Later registrations win.
func (r *MapperRegistry) Register(formKey string, m Mapper) {
	key := strings.ToLower(strings.TrimSpace(formKey))
	if key == "" || m == nil {
		return
	}
	r.mappers[key] = m
}

// Lookup returns the mapper for a form key, falling back to the generic
// label→value passthrough for unregistered forms.
func (r *MapperRegistry) Lookup(formKey string) Mapper {
	if m, ok := r.mappers[strings.ToLower(strings.TrimSpace(formKey))]; ok {
		return m
	}
	return MapGeneric
}

// Has reports whether a form key has a dedicated mapper.
func (r *MapperRegistry) Has(formKey string) bool {
	_, ok := r.mappers[strings.ToLower(strings.TrimSpace(formKey))]
	return ok
}

// Keys returns the registered form keys, sorted.
func (r *MapperRegistry) Keys() []string {
	keys := make([]string, 0, len(r.mappers))
	for k := range r.mappers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

/// MapGeneric is the passthrough mapper: every provided field becomes a
// label→value entry. Unprovided fields are omitted entirely.
func MapGeneric(fields []Field, meta map[string]string) map[string]any {
	model := make(map[string]any)
	for _, f := range fields {
		if f.Provided {
			model[f.Label] = f.Value
		}
	}
	return model
}

// itemLabelRe matches positional labels such as 【item3:amount】.
var itemLabelRe = regexp.MustCompile(`^item(\d+):([A-Za-z0-9_]+)$`)

// MapCreditorsSchedule maps the creditor-schedule forms. Field labels follow
// the indexed convention item<N>:name / item<N>:amount / item<N>:contracted_on
// / item<N>:kind; amounts are yen strings, dates may be era-based.
func MapCreditorsSchedule(fields []Field, meta map[string]string) map[string]any {
	type creditor struct {
		idx   int
		entry map[string]any
	}
	byIndex := make(map[int]*creditor)

	entry := func(idx int) map[string]any {
		c, ok := byIndex[idx]
		if !ok {
			c = &creditor{idx: idx, entry: make(map[string]any)}
			byIndex[idx] = c
		}
		return c.entry
	}

	var total int64
	for _, f := range fields {
		if !f.Provided {
			continue
		}
		m := itemLabelRe.FindStringSubmatch(f.Label)
		if m == nil {
			continue // unmatched labels are ignored, not rejected
		}
		idx, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "amount":
			v, err := ParseYenAmount(f.Value)
			if err != nil {
				log.Printf("[WARNING] skipping malformed amount for item%d: %v", idx, err)
				continue
			}
			entry(idx)["amount"] = v
			total += v
		case "contracted_on", "last_paid_on":
			d, err := ParseEraDate(f.Value)
			if err != nil {
				log.Printf("[WARNING] skipping malformed date for item%d: %v", idx, err)
				continue
			}
			entry(idx)[m[2]] = d.Format("2006-01-02")
		default:
			entry(idx)[m[2]] = f.Value
		}
	}

	ordered := make([]*creditor, 0, len(byIndex))
	for _, c := range byIndex {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].idx < ordered[j].idx })

	creditors := make([]map[string]any, 0, len(ordered))
	for _, c := range ordered {
		creditors = append(creditors, c.entry)
	}

	return map[string]any{
		"creditors":    creditors,
		"total_amount": total,
		"count":        len(creditors),
	}
}

// memberLabelRe matches positional labels such as 【member2:relation】.
var memberLabelRe = regexp.MustCompile(`^member(\d+):([A-Za-z0-9_]+)$`)

// MapHousehold maps the household/income form: member<N>:* indexed entries
// plus flat yen-amount fields.
func MapHousehold(fields []Field, meta map[string]string) map[string]any {
	members := make(map[int]map[string]any)
	model := make(map[string]any)

	for _, f := range fields {
		if !f.Provided {
			continue
		}
		if m := memberLabelRe.FindStringSubmatch(f.Label); m != nil {
			idx, _ := strconv.Atoi(m[1])
			if members[idx] == nil {
				members[idx] = make(map[string]any)
			}
			members[idx][m[2]] = f.Value
			continue
		}
		switch f.Label {
		case "monthly_income", "monthly_rent", "monthly_expenses":
			v, err := ParseYenAmount(f.Value)
			if err != nil {
				log.Printf("[WARNING] skipping malformed amount for %s: %v", f.Label, err)
				continue
			}
			model[f.Label] = v
		default:
			model[f.Label] = f.Value
		}
	}

	idxs := make([]int, 0, len(members))
	for i := range members {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	list := make([]map[string]any, 0, len(idxs))
	for _, i := range idxs {
		list = append(list, members[i])
	}
	model["members"] = list
	return model
}
