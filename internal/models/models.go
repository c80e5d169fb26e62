package models

// All lists the models managed by migrations, parents first.
func All() []interface{} {
	return []interface{}{
		&Evaluation{},
		&Question{},
		&Attempt{},
		&Submission{},
		&Answer{},
		&ActivityLog{},
	}
}
