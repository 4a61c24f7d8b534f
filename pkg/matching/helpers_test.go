package matching

import (
	"github.com/Ramsey-B/thistle/pkg/models"
)

type recordPair struct {
	id      string
	title   string
	country string
	codes   []string
	value   *float64
}

func (p recordPair) record() models.Record {
	return notice(p.id, p.title, p.country, p.codes, p.value)
}

func notice(id, title, country string, codes []string, value *float64) models.Record {
	return models.Record{
		ID:            id,
		ExternalRef:   "ref-" + id,
		Source:        "test",
		Title:         title,
		Country:       country,
		CategoryCodes: codes,
		NumericValue:  value,
	}
}
