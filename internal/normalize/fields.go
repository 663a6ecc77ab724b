package normalize

import (
	"strings"

	"github.com/tenderwatch/crawler/internal/tender"
)

// tedDetailURL is the public notice page for a TED publication number.
const tedDetailURL = "https://ted.europa.eu/en/notice/-/detail/"

// FromTED maps a raw TED API notice onto the canonical shape. The second
// return value is false when the record lacks a usable title or reference
// and must be discarded before persistence.
func FromTED(record map[string]any) (tender.Tender, bool) {
	ref := PickString(record,
		"publication-number", "publicationNumber", "notice-identifier", "ND")
	title := PickString(record, "title", "notice-title", "TI")
	if ref == "" || title == "" {
		return tender.Tender{}, false
	}

	country := PickString(record,
		"place-of-performance.country", "place-of-performance", "buyer-country", "country")

	return tender.Tender{
		Site:          tender.SiteTED,
		ReferenceNo:   ref,
		Title:         title,
		Description:   PickString(record, "description", "short-description"),
		PublishedDate: PickDate(record, "publication-date", "publicationDate", "PD"),
		DeadlineDate:  PickDate(record, "deadline-date", "deadline", "deadline-receipt-tenders"),
		Organization:  PickString(record, "buyer-name", "buyerName", "organisation-name"),
		NoticeType:    PickString(record, "notice-type", "form-type", "noticeType"),
		Country:       country,
		DetailURL:     tedDetailURL + ref,
	}, true
}

// FromUNGMJSON maps a JSON-shaped UNGM search result row.
func FromUNGMJSON(record map[string]any) (tender.Tender, bool) {
	ref := PickString(record,
		"reference", "referenceNo", "reference_no", "noticeId", "id")
	title := PickString(record, "title", "noticeTitle", "Name", "subject")
	if ref == "" || title == "" {
		return tender.Tender{}, false
	}

	detail := PickString(record, "detailUrl", "url", "link", "noticeUrl")
	if detail != "" && strings.HasPrefix(detail, "/") {
		detail = "https://www.ungm.org" + detail
	}

	return tender.Tender{
		Site:          tender.SiteUNGM,
		ReferenceNo:   ref,
		Title:         title,
		Description:   PickString(record, "description", "summary"),
		PublishedDate: PickDate(record, "publishedDate", "datePublished", "published"),
		DeadlineDate:  PickDate(record, "deadlineDate", "deadline", "dateDeadline"),
		Organization:  PickString(record, "agency", "agencyName", "organization", "unOrganization"),
		NoticeType:    PickString(record, "noticeType", "type", "noticeTypeName"),
		Country:       PickString(record, "country", "countryName", "beneficiaryCountry"),
		DetailURL:     detail,
	}, true
}

// FromSAM maps a SAM.gov opportunities API record. Organization may live
// top-level, inside the organization hierarchy, or under an office object.
func FromSAM(record map[string]any) (tender.Tender, bool) {
	ref := PickString(record, "solicitationNumber", "noticeId", "id")
	title := PickString(record, "title", "subject")
	if ref == "" || title == "" {
		return tender.Tender{}, false
	}

	org := PickString(record,
		"organizationName", "fullParentPathName", "organizationHierarchy", "office", "department")

	return tender.Tender{
		Site:          tender.SiteSAM,
		ReferenceNo:   ref,
		Title:         title,
		Description:   PickString(record, "description", "synopsis"),
		PublishedDate: PickDate(record, "postedDate", "publishDate", "datePosted"),
		DeadlineDate:  PickDate(record, "responseDeadLine", "responseDeadline", "archiveDate"),
		Organization:  org,
		NoticeType:    PickString(record, "type", "baseType", "noticeType"),
		Country:       PickString(record, "placeOfPerformanceCountry", "placeOfPerformance", "country"),
		DetailURL:     PickString(record, "uiLink", "link", "url"),
	}, true
}
