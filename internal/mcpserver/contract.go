package mcpserver

// FilterGuide describes how archive search filters combine. It is served
// both as a tool result and as a resource so LLM consumers can build
// searches without guessing.
const FilterGuide = `# Clipshelf Search Filters

A search returns clips newest first (highest id first). Every filter is
optional; an empty search returns the whole archive.

## Combining

- Different filters are combined with AND.
- Values inside one filter are combined with OR.

## Dates

- ` + "`from`" + ` keeps clips created strictly after midnight that starts the given day.
- ` + "`to`" + ` keeps clips created before midnight that ends the given day, so the
  whole ` + "`to`" + ` day is included.
- Both are YYYY-MM-DD in the server's local time zone. ` + "`from`" + ` must not be after ` + "`to`" + `.

## Tags

- ` + "`tags`" + ` is a comma separated list; a clip matches if it carries any of them.
- Tag names that do not exist are ignored. If none of the given names exist,
  nothing matches.

## Servers

- ` + "`servers`" + ` is a comma separated list of server ids; a clip matches if it was
  published to any of them. A clip appears once even if published several times.

## Images

- Similar-image search compares 64-bit perceptual hashes by Hamming distance.
- The default threshold is 15; 0 means the images must hash identically.
- Non-image clips never match an image query.

## Example

` + "```" + `
search_clips(from="2025-01-01", to="2025-01-31", tags="work,meeting", group=true)
` + "```" + `

returns January clips tagged ` + "`work`" + ` or ` + "`meeting`" + `, grouped by day.
`
