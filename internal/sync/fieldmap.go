package sync

import (
	"reflect"
	"sort"
	"strings"

	"gorm.io/gorm/schema"
)

var columnNamer = schema.NamingStrategy{}

// modColumns maps a model's client-visible json keys to their database
// columns, so client mods are checked and translated before they reach a
// GORM Updates call.
func modColumns(model interface{}) map[string]string {
	out := map[string]string{}
	t := reflect.TypeOf(model)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	collectColumns(t, out)
	return out
}

func collectColumns(t reflect.Type, out map[string]string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			collectColumns(f.Type, out)
			continue
		}
		gormTag := f.Tag.Get("gorm")
		if gormTag == "-" {
			continue
		}
		// Associations are written through their own tables.
		if strings.Contains(gormTag, "foreignKey:") || strings.Contains(gormTag, "many2many:") {
			continue
		}
		jsonName := strings.Split(f.Tag.Get("json"), ",")[0]
		if jsonName == "" || jsonName == "-" {
			continue
		}
		column := ""
		for _, part := range strings.Split(gormTag, ";") {
			if strings.HasPrefix(part, "column:") {
				column = strings.TrimPrefix(part, "column:")
			}
		}
		if column == "" {
			column = columnNamer.ColumnName("", f.Name)
		}
		out[jsonName] = column
	}
}

// translateMods converts client mods into column updates. Keys in strip drop
// silently; any other key the table does not expose becomes that change's
// validation error instead of a SQL error, which would abort the whole pass
// and leave the scope permanently stuck on the malformed change.
func translateMods(mods map[string]interface{}, allowed map[string]string, strip map[string]bool) (map[string]interface{}, error) {
	updates := map[string]interface{}{}
	var unknown []string
	for k, v := range mods {
		if strip != nil && strip[k] {
			continue
		}
		column, ok := allowed[k]
		if !ok {
			unknown = append(unknown, k)
			continue
		}
		updates[column] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, NewValidationError("unknown fields: " + strings.Join(unknown, ", "))
	}
	return updates, nil
}
