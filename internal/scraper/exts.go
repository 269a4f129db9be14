package scraper

// mediaExts are the extensions treated as directly downloadable media.
// URLs with one of these and no matching scraper route straight to the
// download engine.
var mediaExts = map[string]struct{}{
	// images
	".avif": {}, ".bmp": {}, ".gif": {}, ".heic": {}, ".heif": {},
	".ico": {}, ".jfif": {}, ".jpeg": {}, ".jpg": {}, ".png": {},
	".svg": {}, ".tif": {}, ".tiff": {}, ".webp": {},
	// video
	".3gp": {}, ".avi": {}, ".f4v": {}, ".flv": {}, ".m4v": {},
	".mkv": {}, ".mov": {}, ".mp4": {}, ".mpeg": {}, ".mpg": {},
	".ts": {}, ".webm": {}, ".wmv": {},
	// audio
	".aac": {}, ".flac": {}, ".m4a": {}, ".mka": {}, ".mp3": {},
	".ogg": {}, ".opus": {}, ".wav": {},
	// archives and documents commonly hosted alongside media
	".7z": {}, ".gz": {}, ".pdf": {}, ".rar": {}, ".zip": {},
}

// IsMediaExt reports whether ext (lowercase, with dot) is a known media
// extension.
func IsMediaExt(ext string) bool {
	_, ok := mediaExts[ext]
	return ok
}
