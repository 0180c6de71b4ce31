// Package search finds documents by tag.
//
// A [Query] names a tag key and optionally an exact value or a value
// prefix. It is resolved in this order:
//
//  1. An explicit set of document ids: the tag of each document is read
//     directly and matched in memory. All matches come back in one page.
//  2. An exact value: the exact-match index (GSI1).
//  3. A value prefix: the prefix-match index (GSI2) with a begins-with
//     condition.
//  4. The key alone: the prefix-match index with no sort key condition.
//
// Index-driven searches return the most recently tagged documents first.
// Index rows of the same document within a page are folded into one result
// whose matched tag collects every matching value. The documents of a page
// are then read in one batch; documents that cannot be found are left out
// of the page.
//
// A search without matches returns an empty page, never an error.
package search
