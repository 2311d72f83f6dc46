package mcp

import "github.com/mark3labs/mcp-go/mcp"

var lookupToolDef = mcp.NewTool("bin_lookup",
	mcp.WithDescription("Look up the learned bin for an item label. Read-only: does not count as a sort."),
	mcp.WithString("item_label",
		mcp.Required(),
		mcp.Description("Item name; case and surrounding whitespace are ignored"),
	),
)

var statsToolDef = mcp.NewTool("bin_stats",
	mcp.WithDescription("Summarize the classification store: total items, per-bin counts and usage, most sorted items."),
	mcp.WithNumber("top",
		mcp.Description("Size of the most-sorted ranking (default from config, max 100)"),
	),
)

var listToolDef = mcp.NewTool("bin_list",
	mcp.WithDescription("List learned classifications ordered by item label."),
	mcp.WithString("bin",
		mcp.Description("Only items routed to this bin"),
		mcp.Enum("yellow", "green", "brown"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Page size (default 50, max 500)"),
	),
	mcp.WithNumber("offset",
		mcp.Description("Number of items to skip"),
	),
)

var classifyToolDef = mcp.NewTool("bin_classify",
	mcp.WithDescription("Resolve an item label to a bin. A known item has its usage counter incremented. "+
		"An unknown item is learned from the given bin, or left unclassified when bin is \"skip\". "+
		"Does not drive the sorting hardware."),
	mcp.WithString("item_label",
		mcp.Required(),
		mcp.Description("Item name as detected"),
	),
	mcp.WithString("bin",
		mcp.Description("Bin to learn when the item is unknown: yellow, green, brown or skip"),
	),
)
