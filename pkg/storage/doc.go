// Package storage writes accepted images to disk.
//
// Output is partitioned by sanitized search key: Registry maps each key to a
// Manager owning one sub-directory of the output root. Files are named
// {sanitized_key}_{NNN}{ext} and numbered from a counter shared by every job
// writing into the same directory, seeded from the files already present.
// Each name is claimed with O_EXCL before the encoded image is written to a
// temporary file and renamed into place, so concurrent jobs and earlier
// runs never overwrite each other.
//
// Usage:
//
//	registry := storage.NewRegistry(cfg.Output.RootDirectory, cfg.Output.JPEGQuality)
//	manager, err := registry.ForKey(key)
//	if err != nil {
//		return err
//	}
//	path, err := manager.SaveImage(accepted)
package storage
