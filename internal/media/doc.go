// Package media decodes image files for fingerprinting.
//
// [Open] tries the pure-Go decoders first (via imaging, with EXIF
// auto-orientation and JPEG, PNG, GIF, WebP, BMP and TIFF registered) and
// falls back to libvips for formats Go cannot read, such as HEIC and AVIF,
// when [InitVips] has been called. Large images are downscaled on load so a
// single 100MP photo cannot exhaust worker memory; [Info] still reports the
// original dimensions.
package media
