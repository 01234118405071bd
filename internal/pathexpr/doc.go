// Package pathexpr compiles and evaluates the path expressions used in
// metric definitions to select values inside a UVE module document.
//
// The grammar is the subset of JSONPath found in exporter configurations:
//
//	$                 document root (optional)
//	.field            object member; 'quoted' or "quoted" names allowed
//	.a,b              union of members in one step
//	.* or [*]         every object member or array item
//	[n]               array item, negative n counts from the end
//	..field, ..*      the step applied at any depth below the current node
//
// Evaluation works on raw JSON bytes (buger/jsonparser) and returns every
// match with the full path that led to it, so callers can derive metric
// names and labels from path segments. Array items appear in paths as "[n]".
package pathexpr
