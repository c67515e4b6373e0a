// Package crawler discovers crawl targets for the four traversal shapes
// (article, popular, search, blog), pages through their resources with
// deduplicating cursors, and resolves every target into a record.
package crawler
