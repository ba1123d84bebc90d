package extcron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ExtParser is a parser extending robfig/cron v3 standard parser with
// several additional descriptors
type ExtParser struct {
	parser cron.Parser
}

// NewParser creates an ExtParser instance
func NewParser() cron.ScheduleParser {
	return ExtParser{cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)}
}

// Parse parses a cron schedule specification. It accepts the cron spec with
// optional seconds field, the standard descriptors and the custom
// descriptors "@at <date>", "@manually" and "@minutely".
func (p ExtParser) Parse(spec string) (cron.Schedule, error) {
	switch {
	case spec == "@manually":
		return At(time.Time{}), nil
	case spec == "@minutely":
		return p.parser.Parse("* * * * *")
	case strings.HasPrefix(spec, "@at "):
		date, err := time.Parse(time.RFC3339, strings.TrimPrefix(spec, "@at "))
		if err != nil {
			return nil, fmt.Errorf("extcron: cannot parse date in %q: %w", spec, err)
		}
		return At(date), nil
	}
	return p.parser.Parse(spec)
}
