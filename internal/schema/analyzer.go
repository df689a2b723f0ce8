package schema

import (
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/registry"
)

// TextAnalyzerName is a unicode tokenizer with lowercasing and no stop words.
// Every token of the input is searchable, so a term like "there" still
// satisfies its branch of a conjunction.
const TextAnalyzerName = "text"

func init() {
	if err := registry.RegisterAnalyzer(TextAnalyzerName, textAnalyzerConstructor); err != nil {
		panic(err)
	}
}

func textAnalyzerConstructor(_ map[string]interface{}, cache *registry.Cache) (analysis.Analyzer, error) {
	tokenizer, err := cache.TokenizerNamed(unicode.Name)
	if err != nil {
		return nil, err
	}
	toLower, err := cache.TokenFilterNamed(lowercase.Name)
	if err != nil {
		return nil, err
	}
	return &analysis.DefaultAnalyzer{
		Tokenizer:    tokenizer,
		TokenFilters: []analysis.TokenFilter{toLower},
	}, nil
}
