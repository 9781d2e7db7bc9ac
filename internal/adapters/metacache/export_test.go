package metacache

import "io/fs"

// SetStatFunc replaces the function used to read file metadata.
// This is exported for testing purposes only.
func (c *Cache) SetStatFunc(fn func(string) (fs.FileInfo, error)) {
	c.stat = fn
}
