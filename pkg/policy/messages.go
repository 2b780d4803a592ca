package policy

import "github.com/jsndz/petbus/pkg/template"

var multiCriteriaMessages = template.MustSet(template.SetSource{
	Approved: []string{
		"Congratulations! You have been approved to adopt {{.PetName}}.",
		"Good news! {{.PetName}} will soon be part of your family.",
		"Adoption approved! {{.PetName}} is waiting for you.",
		"You completed the process! Get ready to welcome {{.PetName}}.",
	},
	Rejected: []string{
		"We're sorry, you don't meet the requirements to adopt {{.PetName}}.",
		"Not this time. {{.PetName}} needs a different kind of home.",
		"Your request could not be approved. We invite you to meet our other pets.",
		"The requirements don't match. But many other friends are waiting for you.",
	},
})

var incomeThresholdMessages = template.MustSet(template.SetSource{
	Approved: []string{
		"You meet all the requirements to adopt {{.PetName}}!",
	},
	Rejected: []string{
		"Your request to adopt {{.PetName}} could not be approved.",
	},
	Reasons: map[string]string{
		IncomeSufficient: "Insufficient income ({{amount .Income}}) to apply for the adoption of {{.PetName}}. Minimum required: {{amount .MinIncome}}",
		NameValid:        "Name too short for validation",
	},
})
