package detection

// placeholder marks class ids unused by the COCO detection task.
const placeholder = "N/A"

// COCO91 is the 91 entry COCO category list, indexed by class id.
var COCO91 = []string{
	"background", "person", "bicycle", "car", "motorcycle", "airplane", "bus",
	"train", "truck", "boat", "traffic light", "fire hydrant", placeholder,
	"stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", placeholder,
	"backpack", "umbrella", placeholder, placeholder, "handbag", "tie",
	"suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite",
	"baseball bat", "baseball glove", "skateboard", "surfboard",
	"tennis racket", "bottle", placeholder, "wine glass", "cup", "fork",
	"knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", placeholder, "dining table", placeholder,
	placeholder, "toilet", placeholder, "tv", "laptop", "mouse", "remote",
	"keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", placeholder, "book", "clock", "vase", "scissors",
	"teddy bear", "hair drier", "toothbrush",
}

// Label returns the name for a class id, or false when the id is outside the
// vocabulary or not a real object class.
func Label(class int) (string, bool) {
	if class <= 0 || class >= len(COCO91) {
		return "", false
	}
	l := COCO91[class]
	if l == placeholder {
		return "", false
	}
	return l, true
}
