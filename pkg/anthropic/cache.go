package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint. The analyzer's instructions are identical for every thread,
// so repeated analyses read them from the prompt cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	if ttl == "" {
		ttl = "5m"
	}
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: ttl,
			},
		},
	}
}
