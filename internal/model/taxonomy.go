package model

import "fmt"

// AttributeClass is one of the thirteen privacy-relevant feature categories
type AttributeClass string

const (
	ClassIdentifierPII       AttributeClass = "Identifier_PII"
	ClassContactInfo         AttributeClass = "Contact_Info"
	ClassDeviceOnlineID      AttributeClass = "Device_OnlineID"
	ClassBiometric           AttributeClass = "Biometric"
	ClassLocationIoT         AttributeClass = "Location_IoT"
	ClassHealthClinical      AttributeClass = "Health_Clinical"
	ClassFinancial           AttributeClass = "Financial"
	ClassChildData           AttributeClass = "Child_Data"
	ClassDemographic         AttributeClass = "Demographic"
	ClassBehavioural         AttributeClass = "Behavioural"
	ClassEnvironmental       AttributeClass = "Environmental"
	ClassOperationalBusiness AttributeClass = "Operational_Business"
	ClassOther               AttributeClass = "Other"
)

// AttributeClasses is the closed set of attribute classes, in reporting order
var AttributeClasses = []AttributeClass{
	ClassIdentifierPII,
	ClassContactInfo,
	ClassDeviceOnlineID,
	ClassBiometric,
	ClassLocationIoT,
	ClassHealthClinical,
	ClassFinancial,
	ClassChildData,
	ClassDemographic,
	ClassBehavioural,
	ClassEnvironmental,
	ClassOperationalBusiness,
	ClassOther,
}

// ParseAttributeClass returns the class named s (exact match)
func ParseAttributeClass(s string) (AttributeClass, error) {
	for _, c := range AttributeClasses {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown attribute class %q", ErrSchemaViolation, s)
}

// Industry is an application domain assigned by the domain validator
type Industry string

const (
	IndustryBankingFinance          Industry = "banking_finance"
	IndustryHealthcarePharma        Industry = "healthcare_pharma"
	IndustryInsurance               Industry = "insurance"
	IndustryEcommerceRetail         Industry = "ecommerce_retail"
	IndustryTelecomNetworkSecurity  Industry = "telecom_network_security"
	IndustrySocialMedia             Industry = "social_media"
	IndustryEducation               Industry = "education_learning_analytics"
	IndustryIoTSmartSystems         Industry = "iot_smart_systems"
	IndustryGovernment              Industry = "government_public_admin"
	IndustryCybersecurity           Industry = "cybersecurity_intrusion_detection"
	IndustryHRRecruitment           Industry = "hr_recruitment"
	IndustryTransportationLogistics Industry = "transportation_logistics"
	IndustryNone                    Industry = "none_of_the_above"
)

// Industries lists the twelve industries followed by IndustryNone
var Industries = []Industry{
	IndustryBankingFinance,
	IndustryHealthcarePharma,
	IndustryInsurance,
	IndustryEcommerceRetail,
	IndustryTelecomNetworkSecurity,
	IndustrySocialMedia,
	IndustryEducation,
	IndustryIoTSmartSystems,
	IndustryGovernment,
	IndustryCybersecurity,
	IndustryHRRecruitment,
	IndustryTransportationLogistics,
	IndustryNone,
}

// Relevance labels
const (
	LabelRelevant    = "Relevant"
	LabelNotRelevant = "NotRelevant"
)

// Feature validation labels
const (
	LabelUsedForTraining    = "UsedForTraining"
	LabelNotUsedForTraining = "NotUsedForTraining"
)

// RegulationStatus is whether a regulation covers a feature
type RegulationStatus string

const (
	Regulated    RegulationStatus = "Regulated"
	NotRegulated RegulationStatus = "NotRegulated"
)

// Confidence grades a regulation judgment
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// Rank orders confidences: High > Medium > Low > unknown
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// JudgmentLabel joins a status and confidence into one regulation-stage label
func JudgmentLabel(s RegulationStatus, c Confidence) string {
	return string(s) + ":" + string(c)
}

// JudgmentLabels is the closed label set of the regulation stage
func JudgmentLabels() []string {
	var labels []string
	for _, s := range []RegulationStatus{Regulated, NotRegulated} {
		for _, c := range []Confidence{ConfidenceHigh, ConfidenceMedium, ConfidenceLow} {
			labels = append(labels, JudgmentLabel(s, c))
		}
	}
	return labels
}

// ParseJudgmentLabel splits a regulation-stage label
func ParseJudgmentLabel(label string) (RegulationStatus, Confidence, error) {
	for _, s := range []RegulationStatus{Regulated, NotRegulated} {
		for _, c := range []Confidence{ConfidenceHigh, ConfidenceMedium, ConfidenceLow} {
			if JudgmentLabel(s, c) == label {
				return s, c, nil
			}
		}
	}
	return "", "", fmt.Errorf("%w: unknown judgment label %q", ErrSchemaViolation, label)
}
