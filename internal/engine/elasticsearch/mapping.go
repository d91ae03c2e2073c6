package elasticsearch

import "encoding/json"

const (
	// DefaultIndexName is the alias (or, without alias swapping, the index)
	// readers query for product documents.
	DefaultIndexName = "products"

	// DefaultLanguageAnalyzer is the built-in analyzer for the catalog's
	// source language.
	DefaultLanguageAnalyzer = "german"

	autocompleteAnalyzer       = "autocomplete"
	autocompleteSearchAnalyzer = "autocomplete_search"
	autocompleteTokenizer      = "autocomplete_tokenizer"
)

// IndexSchema is the body of an index creation request.
type IndexSchema struct {
	Settings IndexSettings `json:"settings"`
	Mappings Mappings      `json:"mappings"`
}

// IndexSettings holds topology and analysis settings.
type IndexSettings struct {
	NumberOfShards   int      `json:"number_of_shards"`
	NumberOfReplicas int      `json:"number_of_replicas"`
	Analysis         Analysis `json:"analysis"`
}

// Analysis declares custom analyzers and tokenizers.
type Analysis struct {
	Analyzer  map[string]Analyzer  `json:"analyzer"`
	Tokenizer map[string]Tokenizer `json:"tokenizer"`
}

// Analyzer is a custom analyzer definition.
type Analyzer struct {
	Type      string   `json:"type"`
	Tokenizer string   `json:"tokenizer"`
	Filter    []string `json:"filter,omitempty"`
}

// Tokenizer is a custom tokenizer definition.
type Tokenizer struct {
	Type       string   `json:"type"`
	MinGram    int      `json:"min_gram,omitempty"`
	MaxGram    int      `json:"max_gram,omitempty"`
	TokenChars []string `json:"token_chars,omitempty"`
}

// Mappings declares the document fields.
type Mappings struct {
	Properties map[string]Field `json:"properties"`
}

// Field is a single field mapping.
type Field struct {
	Type           string           `json:"type"`
	Analyzer       string           `json:"analyzer,omitempty"`
	SearchAnalyzer string           `json:"search_analyzer,omitempty"`
	Index          *bool            `json:"index,omitempty"`
	Fields         map[string]Field `json:"fields,omitempty"`
}

// NewIndexSchema returns the product index schema. Free-text fields use
// languageAnalyzer; an empty value selects DefaultLanguageAnalyzer.
//
// description_short.autocomplete is indexed as edge n-grams but searched
// with whole tokens, so a query term is never itself expanded into prefixes.
func NewIndexSchema(languageAnalyzer string) IndexSchema {
	if languageAnalyzer == "" {
		languageAnalyzer = DefaultLanguageAnalyzer
	}

	keyword := Field{Type: "keyword"}
	integer := Field{Type: "integer"}
	notIndexed := false

	return IndexSchema{
		Settings: IndexSettings{
			NumberOfShards:   1,
			NumberOfReplicas: 0,
			Analysis: Analysis{
				Analyzer: map[string]Analyzer{
					autocompleteAnalyzer: {
						Type:      "custom",
						Tokenizer: autocompleteTokenizer,
						Filter:    []string{"lowercase"},
					},
					autocompleteSearchAnalyzer: {
						Type:      "custom",
						Tokenizer: "standard",
						Filter:    []string{"lowercase"},
					},
				},
				Tokenizer: map[string]Tokenizer{
					autocompleteTokenizer: {
						Type:       "edge_ngram",
						MinGram:    2,
						MaxGram:    20,
						TokenChars: []string{"letter", "digit"},
					},
				},
			},
		},
		Mappings: Mappings{
			Properties: map[string]Field{
				"supplier_aid":     keyword,
				"ean":              keyword,
				"manufacturer_aid": keyword,
				"manufacturer_name": {
					Type:     "text",
					Analyzer: languageAnalyzer,
					Fields:   map[string]Field{"keyword": keyword},
				},
				"description_short": {
					Type:     "text",
					Analyzer: languageAnalyzer,
					Fields: map[string]Field{
						"autocomplete": {
							Type:           "text",
							Analyzer:       autocompleteAnalyzer,
							SearchAnalyzer: autocompleteSearchAnalyzer,
						},
					},
				},
				"description_long": {Type: "text", Analyzer: languageAnalyzer},
				"delivery_time":    integer,
				"order_unit":       keyword,
				"price_quantity":   integer,
				"quantity_min":     integer,
				"eclass_id":        keyword,
				"eclass_system":    keyword,
				"price_amount":     {Type: "float"},
				"price_currency":   keyword,
				"price_type":       keyword,
				"image":            {Type: "keyword", Index: &notIndexed},
			},
		},
	}
}

// JSON serializes the schema for an index creation request.
func (s IndexSchema) JSON() ([]byte, error) {
	return json.Marshal(s)
}
