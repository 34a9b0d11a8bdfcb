package classify

// Category is the topical tag attached to an advisor response.
type Category string

const (
	CategoryPurpose    Category = "purpose"
	CategoryAlignment  Category = "alignment"
	CategoryService    Category = "service"
	CategoryAbundance  Category = "abundance"
	CategoryWisdom     Category = "wisdom"
	CategoryCommunity  Category = "community"
	CategoryInnovation Category = "innovation"
	CategoryMastery    Category = "mastery"
)

// DefaultCategory wins when no category scores strictly highest.
const DefaultCategory = CategoryPurpose

// Sentiment is the tone tag attached to an advisor response.
type Sentiment string

const (
	SentimentAligned             Sentiment = "ALIGNED"
	SentimentAlignedTransforming Sentiment = "ALIGNED_TRANSFORMING"
	SentimentSeeking             Sentiment = "SEEKING"
	SentimentSeekingTransforming Sentiment = "SEEKING_TRANSFORMING"
	SentimentTransforming        Sentiment = "TRANSFORMING"
	SentimentNeutral             Sentiment = "NEUTRAL"
)

type display struct {
	label       string
	description string
}

var categoryDisplay = map[Category]display{
	CategoryPurpose:    {"Soul Purpose", "Discovering your life mission"},
	CategoryAlignment:  {"Energy Alignment", "Aligning with your true self"},
	CategoryService:    {"Divine Service", "Serving others with love"},
	CategoryAbundance:  {"Sacred Abundance", "Manifesting prosperity"},
	CategoryWisdom:     {"Inner Wisdom", "Accessing inner knowledge"},
	CategoryCommunity:  {"Soul Tribe", "Connecting with your tribe"},
	CategoryInnovation: {"Creative Flow", "Expressing creativity"},
	CategoryMastery:    {"Spiritual Mastery", "Achieving spiritual growth"},
}

var sentimentDisplay = map[Sentiment]display{
	SentimentAligned:             {"Soul Aligned", "Fully aligned with your soul purpose"},
	SentimentAlignedTransforming: {"Divine Flow", "Flowing with divine guidance"},
	SentimentSeeking:             {"Seeking Clarity", "Searching for deeper understanding"},
	SentimentSeekingTransforming: {"Sacred Shift", "Undergoing spiritual transformation"},
	SentimentTransforming:        {"Transforming", "In active transformation"},
	SentimentNeutral:             {"Journey Begins", "Beginning your spiritual journey"},
}

// Label is the human-facing name; unknown tags read as "Sacred Journey".
func (c Category) Label() string {
	if d, ok := categoryDisplay[c]; ok {
		return d.label
	}
	return "Sacred Journey"
}

func (c Category) Description() string {
	return categoryDisplay[c].description
}

// Valid reports whether c is one of the eight fixed categories.
func (c Category) Valid() bool {
	_, ok := categoryDisplay[c]
	return ok
}

// Label is the human-facing name; unknown tags read like NEUTRAL.
func (s Sentiment) Label() string {
	if d, ok := sentimentDisplay[s]; ok {
		return d.label
	}
	return sentimentDisplay[SentimentNeutral].label
}

func (s Sentiment) Description() string {
	return sentimentDisplay[s].description
}

func (s Sentiment) Valid() bool {
	_, ok := sentimentDisplay[s]
	return ok
}
