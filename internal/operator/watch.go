package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/okian/iotreat/internal/adapters/mq/mqtt"
	"github.com/okian/iotreat/internal/domain/telemetry"
)

// Publisher sends one payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscriber delivers payloads published to a topic.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h mqtt.Handler) error
}

// Watch prints every telemetry event on topic to out until ctx is done.
// Payloads that are not events are printed raw.
func Watch(ctx context.Context, sub Subscriber, topic string, out io.Writer) error {
	var mu sync.Mutex
	err := sub.Subscribe(ctx, topic, func(_ context.Context, _ string, payload []byte) {
		line := string(payload)
		var ev telemetry.Event
		if err := json.Unmarshal(payload, &ev); err == nil {
			line = FormatEvent(ev)
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(out, line)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	<-ctx.Done()
	return nil
}

// FormatEvent renders ev as "<RFC3339 ts> <event> key=value ..." with keys
// sorted. Nested values are printed as JSON.
func FormatEvent(ev telemetry.Event) string {
	var b strings.Builder
	b.WriteString(ev.TS.UTC().Format(time.RFC3339Nano))
	b.WriteByte(' ')
	b.WriteString(string(ev.Name))

	keys := make([]string, 0, len(ev.Body))
	for k := range ev.Body {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(formatValue(ev.Body[k]))
	}
	return b.String()
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any, []any:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	default:
		return fmt.Sprint(t)
	}
}
