// Package volume implements the local volume driver and the
// reference-counted lifecycle behind spec.md §6's volume_del_ref and
// volume_remove: directories under a base path, mounted and released
// once per container, deleted only when an anonymous volume's last
// reference drops. Named volumes survive their mounting container and
// are only removed by an explicit operator call; anonymous volumes
// (created implicitly for a mount point with no named source) are
// removed automatically on last DelRef.
package volume
