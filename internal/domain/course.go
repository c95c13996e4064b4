package domain

// CourseMatch is the resolved result of a free-text course search: the
// provider's course identifier plus every section identifier the course
// currently carries.
type CourseMatch struct {
	CourseID    string
	Designation string
	SectionIDs  []string
}
