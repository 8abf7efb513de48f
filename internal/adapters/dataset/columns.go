package dataset

// Source dataset column names.
const (
	ColMemberID         = "Member_ID"
	ColName             = "Name"
	ColAge              = "Age"
	ColGender           = "Gender"
	ColAddress          = "Address"
	ColPhoneNumber      = "Phone_Number"
	ColMembershipType   = "Membership_Type"
	ColJoinDate         = "Join_Date"
	ColLastVisitDate    = "Last_Visit_Date"
	ColFavoriteExercise = "Favorite_Exercise"
	ColAvgDuration      = "Avg_Workout_Duration_Min"
	ColAvgCalories      = "Avg_Calories_Burned"
	ColTotalWeight      = "Total_Weight_Lifted_kg"
	ColVisitsPerMonth   = "Visits_Per_Month"
	ColChurn            = "Churn"
)

// Columns is the header written for raw member datasets.
var Columns = []string{
	ColMemberID, ColName, ColAge, ColGender, ColAddress, ColPhoneNumber,
	ColMembershipType, ColJoinDate, ColLastVisitDate, ColFavoriteExercise,
	ColAvgDuration, ColAvgCalories, ColTotalWeight, ColVisitsPerMonth, ColChurn,
}

// nullTokens are cell values read as absent.
var nullTokens = map[string]struct{}{
	"":     {},
	"na":   {},
	"n/a":  {},
	"nan":  {},
	"null": {},
	"none": {},
}
