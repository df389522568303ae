package stages

import "github.com/ppiankov/dtprivacy/internal/model"

// Built-in instructions per stage; stages.instructions.<name> in the config overrides them
var defaultInstructions = map[string]string{
	model.StageRelevance: "You are an expert in privacy-preserving machine learning. " +
		"Read the paper's title, venue and abstract and decide whether it presents or applies " +
		"a decision-tree-based machine learning algorithm (CART, C4.5, random forest, gradient-boosted trees and similar).",

	model.StageDomain: "You are an expert in classifying papers by application domain. " +
		"Read the paper's title, venue and abstract and choose the single domain the decision-tree model is applied to. " +
		"Use none_of_the_above when no listed domain fits.",

	model.StageExtract: "You are building a feature table for decision-tree models. " +
		"List each explicit feature (predictor or attribute) the abstract states is used by the decision-tree model. " +
		"Use short feature names such as \"Age\" or \"Blood glucose level\". " +
		"Do not infer features that are not explicitly stated. Return an empty list when none are mentioned.",

	model.StageValidate: "You are validating a feature extracted from a paper. " +
		"Answer UsedForTraining only if the abstract explicitly mentions the feature as a predictor used to train the decision-tree model.",

	model.StageAttribute: "You are a compliance analyst. Assign the feature to exactly one privacy-relevant class. " +
		"Identifier_PII: SSN, passport number. Contact_Info: email, phone. Device_OnlineID: device id, IP address. " +
		"Biometric: fingerprint, face scan. Location_IoT: GPS, address. Child_Data: data about minors. " +
		"Demographic: age, gender. Give a rationale of at most 15 words.",

	model.StageRegulation: "You are a privacy-law analyst. Given a feature used to train a decision-tree model, " +
		"its attribute class and one or more passages of a regulation, decide whether the regulation governs " +
		"the processing of that feature and how confident you are. Base the answer on the quoted passages only.",
}

// Instructions returns the prompt for stage, preferring a configured override
func Instructions(cfg model.StagesConfig, stage string) string {
	if s, ok := cfg.Instructions[stage]; ok && s != "" {
		return s
	}
	return defaultInstructions[stage]
}
