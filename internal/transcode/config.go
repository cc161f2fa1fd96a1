package transcode

type (
	VideoConfig struct {
		Watermark string `yaml:"watermark" env:"VIDEO_WATERMARK"`
		Bitrate   string `yaml:"bitrate" env:"VIDEO_BITRATE" env-default:"600k"`

		// Threads is handed to every encode; 0 lets ffmpeg decide.
		Threads int `yaml:"threads" env:"VIDEO_THREADS" env-default:"0" validate:"gte=0"`
	}

	PhotoConfig struct {
		Watermark   string `yaml:"watermark" env:"PHOTO_WATERMARK"`
		WebWidth    int    `yaml:"web_width" env:"PHOTO_WEB_WIDTH" env-default:"640" validate:"gt=0"`
		WebHeight   int    `yaml:"web_height" env:"PHOTO_WEB_HEIGHT" env-default:"640" validate:"gt=0"`
		ThumbWidth  int    `yaml:"thumb_width" env:"PHOTO_THUMB_WIDTH" env-default:"120" validate:"gt=0"`
		ThumbHeight int    `yaml:"thumb_height" env:"PHOTO_THUMB_HEIGHT" env-default:"90" validate:"gt=0"`
		Quality     int    `yaml:"jpeg_quality" env:"PHOTO_JPEG_QUALITY" env-default:"90" validate:"gte=1,lte=100"`
	}
)
