// Package catalog keeps the items table in step with the media tree.
//
// Scanner walks media_root and registers every supported image. Files
// named like WordPress derived sizes (photo-150x150.jpg next to photo.jpg)
// are attached to their parent as variants instead of becoming items.
// Watcher follows the tree with fsnotify and, when auto_optimize is on,
// queues newly uploaded images for the background worker.
package catalog
