package anthropic

// BuildCachedSystemBlocks returns the system instruction as one block with
// an ephemeral cache breakpoint. A batch sends the same instruction for
// every document, so later calls read it from the prompt cache.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: "5m"},
		},
	}
}
