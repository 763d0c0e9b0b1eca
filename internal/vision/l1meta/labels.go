package l1meta

// Secondary classifier unique ids as configured on the inference stages.
const (
	ClassifierVehicleColour = 2
	ClassifierVehicleMake   = 3
	ClassifierVehicleType   = 4
)

var primaryClassLabels = [NumClasses]string{"Vehicle", "TwoWheeler", "Person", "RoadSign"}

var vehicleColourLabels = []string{
	"black", "blue", "brown", "gold", "green", "grey",
	"maroon", "orange", "red", "silver", "white", "yellow",
}

var vehicleMakeLabels = []string{
	"Acura", "Audi", "BMW", "Chevrolet", "Chrysler", "Dodge", "Ford",
	"GMC", "Honda", "Hyundai", "Infiniti", "Jeep", "Kia", "Lexus",
	"Mazda", "Mercedes", "Nissan", "Subaru", "Toyota", "Volkswagen",
}

var vehicleTypeLabels = []string{"coupe", "largevehicle", "sedan", "suv", "truck", "van"}

// LabelFor resolves a secondary classifier result to its label string.
// The second return value is false for unknown classifiers or indices.
func LabelFor(classifierID, resultClassID int) (string, bool) {
	var table []string
	switch classifierID {
	case ClassifierVehicleColour:
		table = vehicleColourLabels
	case ClassifierVehicleMake:
		table = vehicleMakeLabels
	case ClassifierVehicleType:
		table = vehicleTypeLabels
	default:
		return "", false
	}
	if resultClassID < 0 || resultClassID >= len(table) {
		return "", false
	}
	return table[resultClassID], true
}
