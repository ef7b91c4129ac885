package channels

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/bondsphere/backend/internal/domain"
)

// Job payloads round-trip through JSONB, so nested values may come back
// as map[string]interface{} rather than their original Go types.

func payloadString(p map[string]interface{}, key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func payloadStringMap(p map[string]interface{}, key string) map[string]string {
	switch m := p[key].(type) {
	case map[string]string:
		return m
	case map[string]interface{}:
		out := make(map[string]string, len(m))
		for k, v := range m {
			if s, ok := v.(string); ok {
				out[k] = s
			} else if v != nil {
				out[k] = fmt.Sprint(v)
			}
		}
		return out
	}
	return nil
}

func recipientUser(job *domain.Job) (uuid.UUID, error) {
	id, err := uuid.Parse(job.Recipient)
	if err != nil {
		return uuid.Nil, domain.Permanent(fmt.Errorf("invalid recipient user id %q", job.Recipient))
	}
	return id, nil
}
