package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint. The enrichment system prompt is identical for every deal in a
// run, so after the first call each request reads it from the prompt cache.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	if text == "" {
		return nil
	}
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "5m",
			},
		},
	}
}
