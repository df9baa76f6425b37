package nn

// COCOClasses is the 80-class COCO label set, in the order that most
// object detection models emit class indices.
var COCOClasses = []string{
	"person",
	"bicycle",
	"car",
	"motorcycle",
	"airplane",
	"bus",
	"train",
	"truck",
	"boat",
	"traffic light",
	"fire hydrant",
	"stop sign",
	"parking meter",
	"bench",
	"bird",
	"cat",
	"dog",
	"horse",
	"sheep",
	"cow",
	"elephant",
	"bear",
	"zebra",
	"giraffe",
	"backpack",
	"umbrella",
	"handbag",
	"tie",
	"suitcase",
	"frisbee",
	"skis",
	"snowboard",
	"sports ball",
	"kite",
	"baseball bat",
	"baseball glove",
	"skateboard",
	"surfboard",
	"tennis racket",
	"bottle",
	"wine glass",
	"cup",
	"fork",
	"knife",
	"spoon",
	"bowl",
	"banana",
	"apple",
	"sandwich",
	"orange",
	"broccoli",
	"carrot",
	"hot dog",
	"pizza",
	"donut",
	"cake",
	"chair",
	"couch",
	"potted plant",
	"bed",
	"dining table",
	"toilet",
	"tv",
	"laptop",
	"mouse",
	"remote",
	"keyboard",
	"cell phone",
	"microwave",
	"oven",
	"toaster",
	"sink",
	"refrigerator",
	"book",
	"clock",
	"vase",
	"scissors",
	"teddy bear",
	"hair drier",
	"toothbrush",
}

// Category IDs from the original COCO annotations that were never used.
// Models exported from the TensorFlow object detection zoo (eg SSD MobileNet)
// emit these sparse IDs, starting at 1, instead of a dense 0..79 index.
var cocoUnusedCategoryIDs = map[int]bool{
	12: true, 26: true, 29: true, 30: true, 45: true, 66: true, 68: true, 69: true, 71: true, 83: true,
}

// COCOCategoryName maps a sparse COCO category ID (1..90) to its class name.
// Returns "unknown" for background, unused IDs, and anything out of range.
func COCOCategoryName(categoryID int) string {
	if categoryID < 1 || categoryID > 90 || cocoUnusedCategoryIDs[categoryID] {
		return "unknown"
	}
	dense := categoryID - 1
	for id := range cocoUnusedCategoryIDs {
		if id < categoryID {
			dense--
		}
	}
	return ClassName(COCOClasses, dense)
}
