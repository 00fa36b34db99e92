package task

// Image is a file attached by the user, before upload.
type Image struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Size returns the payload size in bytes.
func (i Image) Size() int {
	return len(i.Data)
}

// ImageAction selects what an edit does with the task image.
type ImageAction int

const (
	ImageKeep ImageAction = iota
	ImageReplace
	ImageClear
)

func (a ImageAction) String() string {
	switch a {
	case ImageReplace:
		return "replace"
	case ImageClear:
		return "clear"
	default:
		return "keep"
	}
}

// ImageChange is the tagged variant {Keep, Replace(Image), Clear} used by
// edit-save. The zero value is Keep.
type ImageChange struct {
	action ImageAction
	image  Image
}

// KeepImage leaves the stored image URL untouched.
func KeepImage() ImageChange {
	return ImageChange{action: ImageKeep}
}

// ReplaceImage uploads img and substitutes its URL.
func ReplaceImage(img Image) ImageChange {
	return ImageChange{action: ImageReplace, image: img}
}

// ClearImage removes the image URL.
func ClearImage() ImageChange {
	return ImageChange{action: ImageClear}
}

// Action returns the variant tag.
func (c ImageChange) Action() ImageAction {
	return c.action
}

// Image returns the replacement file; ok is false unless the variant is Replace.
func (c ImageChange) Image() (img Image, ok bool) {
	if c.action != ImageReplace {
		return Image{}, false
	}
	return c.image, true
}
