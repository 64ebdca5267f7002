package clinical

// compoundConditions are specific diagnoses matched before the general vocabulary so
// "metastatic breast cancer" is kept whole instead of reduced to "breast cancer".
var compoundConditions = []string{
	"triple-negative breast cancer",
	"estrogen receptor positive breast cancer",
	"her2 positive breast cancer",
	"her2 negative breast cancer",
	"metastatic breast cancer",
	"locally advanced breast cancer",
	"stage 1 breast cancer",
	"stage 2 breast cancer",
	"stage 3 breast cancer",
	"stage 4 breast cancer",
	"non-small cell lung cancer",
	"stage 3 non-small cell lung cancer",
	"small cell lung cancer",
	"metastatic colorectal cancer",
	"castration-resistant prostate cancer",
	"acute myeloid leukemia",
	"chronic lymphocytic leukemia",
	"type 1 diabetes mellitus",
	"type 2 diabetes mellitus",
	"gestational diabetes",
	"end stage renal disease",
	"acute myocardial infarction",
	"congestive heart failure",
	"peripheral artery disease",
	"systemic lupus erythematosus",
}

// conditionTerms lists recognized condition phrases with the name used for search.
// An empty name means the phrase is already canonical.
var conditionTerms = [][2]string{
	{"diabetes", ""},
	{"diabetes mellitus", ""},
	{"type 1 diabetes", ""},
	{"type 2 diabetes", ""},
	{"diabetes type 2", "type 2 diabetes"},
	{"diabetes mellitus type 2", "type 2 diabetes mellitus"},
	{"diabetic", "diabetes"},
	{"dm", "diabetes mellitus"},
	{"t2dm", "type 2 diabetes mellitus"},
	{"t1dm", "type 1 diabetes mellitus"},
	{"hypertension", ""},
	{"high blood pressure", "hypertension"},
	{"htn", "hypertension"},
	{"cancer", ""},
	{"carcinoma", ""},
	{"neoplasm", ""},
	{"malignancy", ""},
	{"lymphoma", ""},
	{"leukemia", ""},
	{"melanoma", ""},
	{"breast cancer", ""},
	{"breast carcinoma", "breast cancer"},
	{"triple negative", "triple-negative breast cancer"},
	{"lung cancer", ""},
	{"lung carcinoma", "lung cancer"},
	{"nsclc", "non-small cell lung cancer"},
	{"adenocarcinoma of lung", "lung adenocarcinoma"},
	{"lung adenocarcinoma", ""},
	{"brain metastases", ""},
	{"colorectal cancer", ""},
	{"colon cancer", ""},
	{"rectal cancer", ""},
	{"prostate cancer", ""},
	{"pancreatic cancer", ""},
	{"ovarian cancer", ""},
	{"heart disease", ""},
	{"heart failure", ""},
	{"cardiovascular disease", ""},
	{"cvd", "cardiovascular disease"},
	{"coronary artery disease", ""},
	{"cad", "coronary artery disease"},
	{"atrial fibrillation", ""},
	{"stroke", ""},
	{"asthma", ""},
	{"copd", "chronic obstructive pulmonary disease"},
	{"chronic obstructive pulmonary disease", ""},
	{"bronchitis", ""},
	{"kidney disease", ""},
	{"renal disease", "kidney disease"},
	{"chronic kidney disease", ""},
	{"ckd", "chronic kidney disease"},
	{"nephropathy", ""},
	{"liver disease", ""},
	{"hepatitis", ""},
	{"cirrhosis", ""},
	{"alzheimer disease", ""},
	{"alzheimer's disease", "alzheimer disease"},
	{"alzheimer", "alzheimer disease"},
	{"parkinson disease", ""},
	{"parkinson's disease", "parkinson disease"},
	{"parkinson", "parkinson disease"},
	{"dementia", ""},
	{"epilepsy", ""},
	{"multiple sclerosis", ""},
	{"depression", ""},
	{"major depressive disorder", ""},
	{"anxiety", ""},
	{"bipolar disorder", ""},
	{"schizophrenia", ""},
	{"ptsd", "post-traumatic stress disorder"},
	{"rheumatoid arthritis", ""},
	{"lupus", "systemic lupus erythematosus"},
	{"inflammatory bowel disease", ""},
	{"crohn's disease", "crohn disease"},
	{"crohn disease", ""},
	{"ulcerative colitis", ""},
	{"obesity", ""},
	{"hiv", ""},
}

var medicationTerms = []string{
	// diabetes
	"metformin", "insulin", "glipizide", "sitagliptin", "empagliflozin", "semaglutide", "liraglutide",
	// cardiovascular
	"lisinopril", "amlodipine", "hydrochlorothiazide", "losartan", "atenolol", "metoprolol",
	"atorvastatin", "simvastatin", "rosuvastatin", "pravastatin", "warfarin", "apixaban", "clopidogrel",
	// pain
	"ibuprofen", "acetaminophen", "aspirin", "naproxen", "tramadol",
	// antibiotics
	"amoxicillin", "azithromycin", "ciprofloxacin", "doxycycline",
	// psychiatric
	"sertraline", "fluoxetine", "escitalopram", "aripiprazole", "quetiapine",
	// oncology
	"folfox", "folfiri", "capecitabine", "oxaliplatin", "carboplatin", "cisplatin", "docetaxel",
	"paclitaxel", "tamoxifen", "letrozole", "anastrozole",
	"erlotinib", "gefitinib", "osimertinib", "trastuzumab", "bevacizumab", "cetuximab",
	"pembrolizumab", "nivolumab", "atezolizumab", "durvalumab",
	// respiratory
	"albuterol", "fluticasone", "tiotropium", "montelukast",
	"prednisone", "methotrexate", "levothyroxine",
}

var procedureTerms = []string{
	"surgery", "laparoscopic surgery", "mastectomy", "lumpectomy", "colectomy",
	"angioplasty", "bypass surgery", "cardiac catheterization", "echocardiogram", "ekg", "ecg",
	"mri", "ct scan", "pet scan", "x-ray", "ultrasound", "mammogram", "colonoscopy",
	"biopsy", "organ transplant", "bone marrow transplant", "dialysis",
	"chemotherapy", "immunotherapy", "radiation therapy", "targeted therapy", "hormone therapy",
}

var labTerms = []string{
	"hba1c", "glucose", "fasting glucose", "blood sugar",
	"cholesterol", "ldl", "hdl", "triglycerides",
	"creatinine", "bun", "alt", "ast", "bilirubin", "alkaline phosphatase",
	"troponin", "bnp", "nt-probnp",
	"hemoglobin", "hematocrit", "white blood cell count", "platelet count",
	"psa", "ca-125", "cea",
}

var biomarkerTerms = []string{
	"pd-l1", "pd-1", "brca1", "brca2", "her2", "egfr", "kras", "alk", "ros1", "braf",
	"estrogen receptor", "progesterone receptor", "msi-high",
}

// demographicFlags maps phrases onto the flag reported for them
var demographicFlags = map[string]string{
	"pregnant":               "pregnant",
	"pregnancy":              "pregnant",
	"breastfeeding":          "breastfeeding",
	"postmenopausal":         "postmenopausal",
	"premenopausal":          "premenopausal",
	"childbearing potential": "childbearing potential",
	"smoker":                 "smoker",
	"former smoker":          "former smoker",
	"non-smoker":             "non-smoker",
}

// shorthand expands note abbreviations token by token before matching
var shorthand = map[string]string{
	"w/":   "with",
	"w/o":  "without",
	"hx":   "history",
	"h/o":  "history of",
	"dx":   "diagnosis",
	"tx":   "treatment",
	"pt":   "patient",
	"yo":   "year old",
	"y/o":  "year old",
	"y.o":  "year old",
	"yr":   "year",
	"yrs":  "years",
	"mos":  "months",
}

// negations open a window in which following findings are recorded as ruled out
var negations = []string{"no", "not", "denies", "denied", "without", "negative for", "free of", "ruled out"}
