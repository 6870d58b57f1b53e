package models

// Kind tags the record variants. All field behavior dispatches on the
// kind's schema rather than probing the payload.
type Kind int

const (
	KindActivity Kind = iota
	KindReply
	KindLike
	KindObject
	KindMediaLink
)

func (k Kind) String() string {
	switch k {
	case KindActivity:
		return "activity"
	case KindReply:
		return "reply"
	case KindLike:
		return "like"
	case KindObject:
		return "object"
	case KindMediaLink:
		return "mediaLink"
	default:
		return "unknown"
	}
}

// ReactionVerb returns the verb a reaction kind must carry, or "" for
// non-reaction kinds.
func (k Kind) ReactionVerb() string {
	switch k {
	case KindReply:
		return "reply"
	case KindLike:
		return "like"
	default:
		return ""
	}
}

// Schema enumerates the field taxonomy for one record kind.
type Schema struct {
	Required []string
	Reserved []string
	Media    []string
	// Object holds the foreign-reference fields; on the wire these carry
	// bare id strings, never inlined records.
	Object           []string
	DirectAudience   []string
	IndirectAudience []string
	Response         []string
	DateTime         []string
}

// Audience returns direct and indirect audience fields combined.
func (s *Schema) Audience() []string {
	out := make([]string, 0, len(s.DirectAudience)+len(s.IndirectAudience))
	out = append(out, s.DirectAudience...)
	out = append(out, s.IndirectAudience...)
	return out
}

func (s *Schema) isResponse(field string) bool {
	for _, f := range s.Response {
		if f == field {
			return true
		}
	}
	return false
}

// ObjectFields is the fixed set of fields whose value is semantically a
// reference to another record. Shared by every kind.
var ObjectFields = []string{"actor", "generator", "object", "provider", "target", "author"}

// AudienceFields lists the four audience-targeting fields in order.
var AudienceFields = []string{"to", "bto", "cc", "bcc"}

// ResponseFields lists the system-managed reaction collections on an
// activity.
var ResponseFields = []string{"replies", "likes"}

var (
	activitySchema = Schema{
		Required:         []string{"verb", "actor", "object"},
		Reserved:         []string{"published", "updated"},
		Media:            []string{"icon"},
		Object:           ObjectFields,
		DirectAudience:   []string{"to", "bto"},
		IndirectAudience: []string{"cc", "bcc"},
		Response:         ResponseFields,
		DateTime:         []string{"published", "updated"},
	}

	// Reactions are activities without their own response collections:
	// replies and likes never nest further reactions.
	reactionSchema = Schema{
		Required:         []string{"verb", "actor", "object"},
		Reserved:         []string{"published", "updated"},
		Media:            []string{"icon"},
		Object:           ObjectFields,
		DirectAudience:   []string{"to", "bto"},
		IndirectAudience: []string{"cc", "bcc"},
		DateTime:         []string{"published", "updated"},
	}

	objectSchema = Schema{
		Required: []string{"objectType", "id", "published"},
		Media:    []string{"image"},
		Object:   ObjectFields,
		DateTime: []string{"published", "updated"},
	}

	mediaLinkSchema = Schema{
		Required: []string{"url"},
	}
)

// SchemaOf returns the field schema for a kind.
func SchemaOf(k Kind) *Schema {
	switch k {
	case KindActivity:
		return &activitySchema
	case KindReply, KindLike:
		return &reactionSchema
	case KindObject:
		return &objectSchema
	case KindMediaLink:
		return &mediaLinkSchema
	default:
		return &objectSchema
	}
}
